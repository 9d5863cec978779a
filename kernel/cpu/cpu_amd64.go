package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// In8 reads a byte from the given I/O port.
func In8(port uint16) uint8

// Out8 writes a byte to the given I/O port.
func Out8(port uint16, value uint8)

// In16 reads a word from the given I/O port.
func In16(port uint16) uint16

// Out16 writes a word to the given I/O port.
func Out16(port uint16, value uint16)

// In32 reads a double-word from the given I/O port.
func In32(port uint16) uint32

// Out32 writes a double-word to the given I/O port.
func Out32(port uint16, value uint32)

// IOWait performs a tiny, fixed-duration I/O port write that legacy hardware
// relies on to settle between consecutive accesses to the same device.
func IOWait()

// LoadGDT loads the GDTR register with the descriptor table pointed to by
// gdtPtr (a packed {limit uint16, base uint64} structure) and reloads the
// segment registers using the kernel code/data selectors.
func LoadGDT(gdtPtr uintptr, codeSel, dataSel uint16)

// LoadIDT loads the IDTR register with the descriptor table pointed to by
// idtPtr (a packed {limit uint16, base uint64} structure).
func LoadIDT(idtPtr uintptr)

// VectorStubAddr returns the entry address of the generated trampoline for
// the given interrupt vector (0-255). Each trampoline saves the register
// state, pushes the vector number and falls through to the common dispatch
// routine that calls into irq.DispatchException/DispatchIRQ.
func VectorStubAddr(vector uint8) uintptr

// LoadTR loads the task register with the given TSS selector.
func LoadTR(sel uint16)

// ReadCR3 returns the value stored in the CR3 register.
func ReadCR3() uint64

// InvalidatePage flushes the TLB entry for virtAddr. It is an alias of
// FlushTLBEntry kept for parity with the INVLPG mnemonic.
func InvalidatePage(virtAddr uintptr) {
	FlushTLBEntry(virtAddr)
}

// NewTaskStack lays out a fresh kernel stack, given its top address, so that
// the first Switch into it resumes execution at entryPC with the stack
// otherwise empty. It returns the stack pointer value to record as the
// task's saved sp.
func NewTaskStack(stackTop uintptr, entryPC uintptr) uintptr

// Switch saves the current stack pointer into *savedSP and switches to
// newSP, resuming execution where that stack last called Switch (or, for a
// stack prepared by NewTaskStack that has never run, at its entry point).
// Registers other than the stack pointer are preserved by the calling
// convention on either side of the switch.
func Switch(savedSP *uintptr, newSP uintptr)
