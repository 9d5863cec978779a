// Package task implements a fixed-capacity, round-robin kernel scheduler.
// Preemption happens only at the PIT tick; a task otherwise runs until the
// next tick or until it calls Exit.
package task

import (
	"boxos/kernel"
	"boxos/kernel/cpu"
	"boxos/kernel/heap"
	"boxos/kernel/mem"
	"reflect"
	"unsafe"
)

// State describes where a task sits in its lifecycle.
type State uint8

const (
	StateUnused State = iota
	StateReady
	StateRunning
	StateBlocked
	StateDead
)

// ID identifies a task. The zero ID never refers to a real task.
type ID uint32

// MaxTasks bounds the task table per spec.md §4.7.
const MaxTasks = 256

// StackSize is the fixed kernel-stack allocation for every task.
const StackSize = mem.Size(16 * mem.Kb)

type taskInfo struct {
	id        ID
	state     State
	sp        uintptr
	stackBase uintptr
	priority  uint8
	entry     func()
}

var (
	tasks    [MaxTasks]taskInfo
	slotByID map[ID]int

	readyQueue [MaxTasks]ID
	readyHead  uint32
	readyTail  uint32
	readyCount uint32

	current ID
	nextID  ID = 1

	// the following are mocked by tests and automatically inlined by the
	// compiler.
	newTaskStackFn = cpu.NewTaskStack
	switchFn       = cpu.Switch
	allocFn        = heap.Alloc
	freeFn         = heap.Free

	errTaskTableFull = &kernel.Error{Module: "task", Message: "task table full"}
)

func init() {
	slotByID = make(map[ID]int, MaxTasks)
}

// taskTrampolineAddr returns the entry PC used to bootstrap every new task's
// stack. The trampoline itself is implemented as taskTrampoline below: it
// reads the scheduler's current task ID, runs its entry function and then
// exits it, so no arguments need to cross the context switch boundary.
func taskTrampolineAddr() uintptr {
	return reflect.ValueOf(taskTrampoline).Pointer()
}

// taskTrampoline is the first Go code that runs on a freshly created task's
// stack once it is switched into for the first time.
func taskTrampoline() {
	slot, ok := slotByID[current]
	if ok && tasks[slot].entry != nil {
		tasks[slot].entry()
	}
	Exit()
}

// Create allocates a task table slot and a 16-KiB kernel stack, and queues
// the new task on the ready list. entry runs on the new task's own stack the
// first time the scheduler switches into it.
func Create(entry func(), priority uint8) (ID, *kernel.Error) {
	slot := -1
	for i := range tasks {
		if tasks[i].state == StateUnused {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, errTaskTableFull
	}

	stackMem := allocFn(StackSize)
	stackBase := uintptr(stackMem)
	stackTop := stackBase + uintptr(StackSize)

	id := nextID
	nextID++

	tasks[slot] = taskInfo{
		id:        id,
		state:     StateReady,
		sp:        newTaskStackFn(stackTop, taskTrampolineAddr()),
		stackBase: stackBase,
		priority:  priority,
		entry:     entry,
	}
	slotByID[id] = slot

	enqueueReady(id)
	return id, nil
}

func enqueueReady(id ID) {
	readyQueue[readyTail] = id
	readyTail = (readyTail + 1) % MaxTasks
	readyCount++
}

func dequeueReady() (ID, bool) {
	if readyCount == 0 {
		return 0, false
	}
	id := readyQueue[readyHead]
	readyHead = (readyHead + 1) % MaxTasks
	readyCount--
	return id, true
}

// Current returns the currently running task's ID, or 0 before the first
// Tick.
func Current() ID {
	return current
}

// StateOf returns the state of the given task, or StateUnused if it does
// not exist.
func StateOf(id ID) State {
	slot, ok := slotByID[id]
	if !ok {
		return StateUnused
	}
	return tasks[slot].state
}

// Tick is registered as the PIT tick hook. It reaps the outgoing task if it
// exited during its run, otherwise requeues it as ready, then switches to
// the next ready task round-robin. A task only ever becomes StateDead while
// it is the current task, so reaping it here (rather than waiting for it to
// resurface from the ready queue) is the only point it is ever observed.
func Tick() {
	outgoingSlot, hasOutgoing := slotByID[current]

	if hasOutgoing {
		switch tasks[outgoingSlot].state {
		case StateDead:
			reap(outgoingSlot)
			hasOutgoing = false
		case StateRunning:
			tasks[outgoingSlot].state = StateReady
			enqueueReady(current)
		}
	}

	nextTaskID, ok := dequeueReady()
	if !ok {
		return
	}

	nextSlot := slotByID[nextTaskID]
	tasks[nextSlot].state = StateRunning

	var outgoingSP *uintptr
	if hasOutgoing {
		outgoingSP = &tasks[outgoingSlot].sp
	} else {
		var discard uintptr
		outgoingSP = &discard
	}

	current = nextTaskID
	switchFn(outgoingSP, tasks[nextSlot].sp)
}

// Exit marks the calling task as dead. Its kernel stack is released the
// next time the scheduler ticks past it (Tick reaps dead tasks lazily, once
// they can no longer be the running context).
func Exit() {
	slot, ok := slotByID[current]
	if !ok {
		return
	}
	tasks[slot].state = StateDead
}

func reap(slot int) {
	freeFn(unsafe.Pointer(tasks[slot].stackBase))
	delete(slotByID, tasks[slot].id)
	tasks[slot] = taskInfo{}
}
