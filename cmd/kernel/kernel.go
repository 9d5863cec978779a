// Command kernel is the freestanding entry point assembled into the BoxOS
// kernel image. The bootloader's rt0 stub (outside the scope of this module)
// transfers control here after dropping into 64-bit long mode, installing a
// minimal bootstrap stack and handing over the firmware-provided memory map.
package main

import (
	_ "boxos/device/acpi"
	"boxos/fs/tagfs"
	"boxos/kernel"
	"boxos/kernel/cpu"
	"boxos/kernel/gdt"
	"boxos/kernel/goruntime"
	"boxos/kernel/hal"
	"boxos/kernel/hal/multiboot"
	"boxos/kernel/heap"
	"boxos/kernel/idt"
	"boxos/kernel/irq"
	"boxos/kernel/kfmt"
	"boxos/kernel/mem"
	"boxos/kernel/mem/pmm/allocator"
	"boxos/kernel/mem/vmm"
	"boxos/kernel/pic"
	"boxos/kernel/pit"
	"boxos/kernel/task"
	"boxos/shell"
	"unsafe"
)

// Boot-time configuration. These are constants rather than command-line
// switches since there is no argv at this point in boot; a future console
// boot-line parser (multiboot.GetBootCmdLine) could override them.
const (
	pitFrequencyHz = 100
	kernelHeapSize = mem.Size(8 * mem.Mb)
	shellPriority  = 10
)

// ring0StackSize is the bootstrap ring-0 stack handed to the TSS; it backs
// every privilege-level transition that does not land on an IST stack.
const ring0StackSize = 16 * 1024

// istStackSize must match kernel/gdt's own istStackSize; double-fault, NMI,
// machine-check and debug each get a dedicated stack so a fault while the
// ring-0 stack itself is corrupt can still be handled.
const istStackSize = 4096

var (
	ring0Stack [ring0StackSize]byte
	istStack1  [istStackSize]byte
	istStack2  [istStackSize]byte
	istStack3  [istStackSize]byte
	istStack4  [istStackSize]byte
)

func stackTop(stack []byte) uintptr {
	return uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))
}

// Kmain is the only Go symbol the rt0 assembly calls into. It brings up the
// platform (GDT/TSS/IDT), the interrupt controller and timer, the physical
// and virtual memory managers, the kernel heap, the scheduler and finally
// hands the console over to the shell. It ends in the idle halt loop that
// the scheduler preempts away from on the first PIT tick; Kmain never
// returns.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	gdt.Init(stackTop(ring0Stack[:]), [4]uintptr{
		stackTop(istStack1[:]),
		stackTop(istStack2[:]),
		stackTop(istStack3[:]),
		stackTop(istStack4[:]),
	})
	idt.Init()
	pic.Init()

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(kernelStart); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	} else if err = heap.Init(kernelHeapSize); err != nil {
		panic(err)
	}

	hal.DetectHardware()

	pit.SetTickHook(task.Tick)
	irq.HandleIRQ(irq.IRQTimer, pit.Tick)
	pit.Init(pitFrequencyHz)

	mountTagFS()

	// Interrupts stay masked until every subsystem they can fire into
	// (scheduler, keyboard, PIT) is wired up.
	cpu.EnableInterrupts()

	for {
		cpu.Halt()
	}
}

// mountTagFS brings up the primary-master ATA drive detected by
// hal.DetectHardware and mounts (or formats) TagFS on it, then starts the
// shell on the active TTY. A missing or unresponsive drive is logged and
// left unmounted rather than treated as a boot-fatal condition, mirroring
// device/ata's own best-effort DriverInit.
func mountTagFS() {
	drive := hal.ActiveATA()
	if drive == nil {
		kfmt.Printf("kmain: no ATA drive detected, shell not started\n")
		return
	}

	dev := tagfs.NewATABlockDevice(drive)
	fs, err := tagfs.Mount(dev, false)
	if err != nil {
		kfmt.Printf("kmain: tagfs mount failed: %s\n", err.Message)
		return
	}

	shell.Start(hal.ActiveTTY(), fs, shellPriority)
}
