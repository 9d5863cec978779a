package task

import (
	"boxos/kernel/mem"
	"testing"
	"unsafe"
)

func resetScheduler() {
	tasks = [MaxTasks]taskInfo{}
	slotByID = make(map[ID]int, MaxTasks)
	readyQueue = [MaxTasks]ID{}
	readyHead, readyTail, readyCount = 0, 0, 0
	current = 0
	nextID = 1
}

// mockRuntime replaces the arch/heap indirections with ones that operate
// purely on Go-owned memory, so Create/Tick can be exercised without a real
// context switch or a mapped heap window. It returns the sequence of stack
// pointers passed to switchFn.
func mockRuntime(t *testing.T) *[]uintptr {
	origStack, origSwitch, origAlloc, origFree := newTaskStackFn, switchFn, allocFn, freeFn
	t.Cleanup(func() {
		newTaskStackFn, switchFn, allocFn, freeFn = origStack, origSwitch, origAlloc, origFree
	})

	newTaskStackFn = func(stackTop uintptr, entryPC uintptr) uintptr { return stackTop }
	allocFn = func(size mem.Size) unsafe.Pointer {
		buf := make([]byte, size)
		return unsafe.Pointer(&buf[0])
	}
	var freed []unsafe.Pointer
	freeFn = func(p unsafe.Pointer) { freed = append(freed, p) }

	switches := make([]uintptr, 0)
	switchFn = func(savedSP *uintptr, newSP uintptr) {
		switches = append(switches, newSP)
	}

	return &switches
}

func TestCreateQueuesReadyTask(t *testing.T) {
	resetScheduler()
	mockRuntime(t)

	id, err := Create(func() {}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if StateOf(id) != StateReady {
		t.Errorf("expected new task to be ready; got state %d", StateOf(id))
	}
}

func TestCreateFailsWhenTableIsFull(t *testing.T) {
	resetScheduler()
	mockRuntime(t)

	for i := 0; i < MaxTasks; i++ {
		if _, err := Create(func() {}, 0); err != nil {
			t.Fatalf("unexpected error creating task %d: %v", i, err)
		}
	}

	if _, err := Create(func() {}, 0); err != errTaskTableFull {
		t.Errorf("expected errTaskTableFull; got %v", err)
	}
}

func TestTickRoundRobinsBetweenReadyTasks(t *testing.T) {
	resetScheduler()
	switches := mockRuntime(t)

	a, _ := Create(func() {}, 0)
	b, _ := Create(func() {}, 0)

	Tick()
	if Current() != a {
		t.Fatalf("expected task a to run first; got %v", Current())
	}

	Tick()
	if Current() != b {
		t.Fatalf("expected task b to run second; got %v", Current())
	}

	Tick()
	if Current() != a {
		t.Fatalf("expected round-robin back to task a; got %v", Current())
	}

	if len(*switches) != 3 {
		t.Errorf("expected 3 context switches; got %d", len(*switches))
	}
}

func TestExitReapsStackOnNextTick(t *testing.T) {
	resetScheduler()
	mockRuntime(t)

	origFree := freeFn
	var freedCount int
	freeFn = func(p unsafe.Pointer) { freedCount++ }
	t.Cleanup(func() { freeFn = origFree })

	a, _ := Create(func() {}, 0)
	_, _ = Create(func() {}, 0)

	Tick() // a becomes current
	if Current() != a {
		t.Fatalf("expected task a to run first")
	}

	Exit() // a marks itself dead

	Tick() // b runs; a is reaped here since it is the outgoing task

	if StateOf(a) != StateUnused {
		t.Errorf("expected task a's slot to be reclaimed after reaping")
	}
	if freedCount != 1 {
		t.Errorf("expected exactly one stack to be freed; got %d", freedCount)
	}
}
