package vmm

import (
	"boxos/kernel"
	"boxos/kernel/cpu"
	"boxos/kernel/mem"
	"boxos/kernel/mem/pmm"
	"math"
	"unsafe"
)

const (
	// pageLevels indicates the number of page table levels supported by
	// the amd64 architecture.
	pageLevels = 4

	// ptePhysPageMask extracts the physical address encoded in bits 12-51
	// of a page table entry.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page used for temporary
	// physical page mappings (e.g. when mapping inactive PDT pages). It
	// uses page table indices 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the
	// last entry of the top-level page table to allow accessing any page
	// table in the hierarchy via the regular MMU translation mechanism.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits consumed
	// by each page table level (9 bits, 512 entries per level).
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts defines the shift required to extract each page
	// table level's index from a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

const (
	// FlagPresent is set when the page is resident in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code may access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching enables write-through caching for the page.
	FlagWriteThroughCaching

	// FlagDoNotCache disables caching for the page.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when the page is modified.
	FlagDirty

	// FlagHugePage selects a 2MiB page instead of a 4KiB page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry for this page from being flushed
	// on a CR3 reload.
	FlagGlobal

	// FlagCopyOnWrite marks a read-only page for lazy copy-on-write.
	// Mutually exclusive with FlagRW.
	FlagCopyOnWrite = 1 << 9

	// FlagNoExecute marks the page as containing non-executable data.
	FlagNoExecute = 1 << 63
)

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address,
// rounding down if the address is not page-aligned.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(mem.PageSize) - 1)) >> mem.PageShift)
}

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to cpu.SwitchPDT.
	switchPDTFn = cpu.SwitchPDT
)

// PageDirectoryTable describes the top-level table in the amd64 paging
// hierarchy.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init prepares the page table directory rooted at pdtFrame. If pdtFrame
// does not match the currently active PDT, a temporary mapping is
// established so the frame contents can be cleared and the recursive
// mapping for the last entry installed.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	mem.Memset(pdtPage.Address(), 0, mem.PageSize)
	lastEntryAddr := pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
	lastEntry := (*pageTableEntry)(unsafe.Pointer(lastEntryAddr))
	*lastEntry = 0
	lastEntry.SetFlags(FlagPresent | FlagRW)
	lastEntry.SetFrame(pdtFrame)

	_ = unmapFn(pdtPage)
	return nil
}

// Map establishes a mapping for this PDT. Unlike the package-level Map
// function, it transparently supports inactive PDTs by temporarily
// installing the recursive mapping entry needed to reach them.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	var (
		lastEntryAddr uintptr
		lastEntry     *pageTableEntry
	)

	if activePdtFrame != pdt.pdtFrame {
		lastEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastEntry = (*pageTableEntry)(unsafe.Pointer(lastEntryAddr))
		lastEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastEntryAddr)
	}

	err := mapFn(page, frame, flags)

	if activePdtFrame != pdt.pdtFrame {
		lastEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastEntryAddr)
	}

	return err
}

// Unmap removes a mapping previously installed via Map on this PDT.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	var (
		lastEntryAddr uintptr
		lastEntry     *pageTableEntry
	)

	if activePdtFrame != pdt.pdtFrame {
		lastEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastEntry = (*pageTableEntry)(unsafe.Pointer(lastEntryAddr))
		lastEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastEntryAddr)
	}

	err := unmapFn(page)

	if activePdtFrame != pdt.pdtFrame {
		lastEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastEntryAddr)
	}

	return err
}

// Activate installs this page directory as the active one and flushes the
// TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
