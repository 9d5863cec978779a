// Package gdt builds and installs the kernel's Global Descriptor Table and
// Task State Segment.
package gdt

import (
	"boxos/kernel/cpu"
	"unsafe"
)

// selector indices into the GDT, expressed in bytes (index << 3).
const (
	NullSelector     = uint16(0x00)
	KernelCodeSelector = uint16(0x08)
	KernelDataSelector = uint16(0x10)
	UserCodeSelector   = uint16(0x18 | 3)
	UserDataSelector   = uint16(0x20 | 3)
	tssSelector        = uint16(0x28)
)

// access byte flags for a descriptor.
const (
	accessPresent    = 1 << 7
	accessRing3      = 3 << 5
	accessDescriptor = 1 << 4
	accessExecutable = 1 << 3
	accessRW         = 1 << 1
	accessAccessed   = 1 << 0
	accessTSS        = 0x9
)

// flag nibble values (granularity + size).
const (
	flagLongMode = 1 << 1
	flagGranularity4K = 1 << 3
)

// entry is a packed 8-byte GDT descriptor. BoxOS runs purely in long mode so
// base and limit are ignored by the CPU for code/data segments; they are
// still populated for documentation purposes and because the TSS descriptor
// reuses the same encoding with a real 64-bit base.
type entry struct {
	limitLow   uint16
	baseLow    uint16
	baseMiddle uint8
	access     uint8
	flagsLimit uint8
	baseHigh   uint8
}

func newEntry(base uint32, limit uint32, access, flags uint8) entry {
	return entry{
		limitLow:   uint16(limit & 0xffff),
		baseLow:    uint16(base & 0xffff),
		baseMiddle: uint8((base >> 16) & 0xff),
		access:     access,
		flagsLimit: uint8((limit>>16)&0xf) | (flags << 4),
		baseHigh:   uint8((base >> 24) & 0xff),
	}
}

// tssEntry occupies two consecutive GDT slots (system-segment form with a
// 64-bit base) per spec.md's segment descriptor invariant.
type tssEntry struct {
	low     entry
	baseHi  uint32
	reserved uint32
}

// pointer is the packed {limit, base} structure consumed by LGDT/LIDT.
type pointer struct {
	limit uint16
	base  uint64
}

// table holds the five conventional descriptors plus the two-slot TSS
// descriptor, laid out in GDT order: null, kernel-code, kernel-data,
// user-code, user-data, tss-low, tss-high.
var table struct {
	null       entry
	kernelCode entry
	kernelData entry
	userCode   entry
	userData   entry
	tss        tssEntry
}

var tssInstance TSS

// istStackSize is the minimum size (per spec.md §3) of each IST stack.
const istStackSize = 4096

// TSS mirrors the x86-64 Task State Segment layout required for IST
// switching. Only the fields BoxOS relies on (RSP0 and IST1-4) are ever
// written; IST5-7 are left zero per spec.md §9's authoritative defect
// note.
type TSS struct {
	reserved0 uint32
	rsp0      uint64
	rsp1      uint64
	rsp2      uint64
	reserved1 uint64
	ist1      uint64
	ist2      uint64
	ist3      uint64
	ist4      uint64
	ist5      uint64
	ist6      uint64
	ist7      uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

// Init builds the GDT and TSS, installs both and reloads every segment
// register. ring0Stack is the stack pointer used when a lower-privilege
// task traps into ring 0; istStacks[0..3] become IST1..IST4 (double-fault,
// NMI, machine-check, debug respectively, per spec.md §3).
func Init(ring0Stack uintptr, istStacks [4]uintptr) {
	installDescriptors()
	installTSS(ring0Stack, istStacks)

	gdtPtr := pointer{
		limit: uint16(unsafe.Sizeof(table) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&table))),
	}
	cpu.LoadGDT(uintptr(unsafe.Pointer(&gdtPtr)), KernelCodeSelector, KernelDataSelector)
	cpu.LoadTR(tssSelector)
}

// installDescriptors populates the null, code and data descriptors. Base
// and limit are irrelevant in long mode except for the long-mode flag.
func installDescriptors() {
	table.null = entry{}
	table.kernelCode = newEntry(0, 0xfffff, accessPresent|accessDescriptor|accessExecutable|accessRW, flagLongMode)
	table.kernelData = newEntry(0, 0xfffff, accessPresent|accessDescriptor|accessRW, flagGranularity4K)
	table.userCode = newEntry(0, 0xfffff, accessPresent|accessRing3|accessDescriptor|accessExecutable|accessRW, flagLongMode)
	table.userData = newEntry(0, 0xfffff, accessPresent|accessRing3|accessDescriptor|accessRW, flagGranularity4K)
}

// installTSS zeroes the TSS, installs the supplied stack pointers, sets the
// I/O-map offset to the structure size (no I/O bitmap) and writes the TSS
// descriptor into its two reserved GDT slots.
func installTSS(ring0Stack uintptr, istStacks [4]uintptr) {
	tssInstance = TSS{}
	tssInstance.rsp0 = uint64(ring0Stack)
	tssInstance.ist1 = uint64(istStacks[0])
	tssInstance.ist2 = uint64(istStacks[1])
	tssInstance.ist3 = uint64(istStacks[2])
	tssInstance.ist4 = uint64(istStacks[3])
	tssInstance.ioMapBase = uint16(unsafe.Sizeof(tssInstance))

	base := uint64(uintptr(unsafe.Pointer(&tssInstance)))
	limit := uint32(unsafe.Sizeof(tssInstance) - 1)

	table.tss.low = newEntry(uint32(base), limit, accessPresent|accessTSS, 0)
	table.tss.baseHi = uint32(base >> 32)
	table.tss.reserved = 0
}
