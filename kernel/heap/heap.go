// Package heap implements the kernel's single boundary-tag, first-fit
// allocator. It owns a reserved virtual address window whose pages are
// mapped on demand by the vmm package as the heap grows; the allocator
// itself never calls the frame allocator directly.
package heap

import (
	"boxos/kernel"
	"boxos/kernel/kfmt"
	"boxos/kernel/mem"
	"boxos/kernel/mem/vmm"
	"boxos/kernel/sync"
	"unsafe"
)

// blockMagic tags the header of every live allocation. It is cleared the
// moment a block returns to the free list and rewritten on the next alloc,
// so a mismatch at free time unambiguously means corruption or double-free.
const blockMagic = uint32(0x68656170) // "heap"

const alignment = 16

// blockHeader precedes every block in the pool, free or allocated. size
// always covers the header itself plus the usable payload that follows it.
type blockHeader struct {
	size  uintptr
	next  uintptr // free-list successor address; unused while allocated
	magic uint32
}

var headerSize = unsafe.Sizeof(blockHeader{})

// minBlockSize is the smallest remainder worth splitting off during Alloc;
// a split leaving less than this is folded into the returned block instead.
var minBlockSize = headerSize + alignment

var (
	lock sync.Spinlock

	poolStart    uintptr
	poolEnd      uintptr
	freeListHead uintptr

	// panicFn is mocked by tests and is automatically inlined by the
	// compiler.
	panicFn = kfmt.Panic

	errOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}
	errBadMagic    = &kernel.Error{Module: "heap", Message: "corrupted or missing allocation magic"}
	errOutOfRange  = &kernel.Error{Module: "heap", Message: "pointer does not belong to the heap pool"}
	errDoubleFree  = &kernel.Error{Module: "heap", Message: "double free detected"}
)

// Init reserves a virtual address window of the requested size for the
// kernel heap and seeds it with a single free block spanning the whole
// window. The window's pages are not mapped to physical memory until
// touched; vmm.SetHeapWindow arranges for the resulting faults to be
// satisfied on demand.
func Init(size mem.Size) *kernel.Error {
	start, err := vmm.EarlyReserveRegion(size)
	if err != nil {
		return err
	}

	vmm.SetHeapWindow(start, size)
	resetPool(start, start+uintptr(size))

	return nil
}

// resetPool (re)initializes the allocator over [start, end), seeding it with
// a single free block spanning the whole range. Split out from Init so that
// tests can point the allocator at a plain Go-owned buffer instead of a real
// kernel virtual address range.
func resetPool(start, end uintptr) {
	poolStart = start
	poolEnd = end

	head := headerAt(poolStart)
	head.size = end - start
	head.next = 0
	head.magic = 0
	freeListHead = poolStart
}

func align(n uintptr) uintptr {
	return (n + (alignment - 1)) &^ (alignment - 1)
}

func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// Alloc reserves a block of at least n bytes and returns a pointer to its
// usable region. The kernel heap never returns an out-of-memory condition to
// its caller: exhaustion is a kernel bug, so Alloc panics instead.
func Alloc(n mem.Size) unsafe.Pointer {
	blockSize := align(headerSize + uintptr(n))
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}

	lock.Acquire()
	defer lock.Release()

	var prev uintptr
	for cur := freeListHead; cur != 0; {
		blk := headerAt(cur)
		if blk.size >= blockSize {
			remaining := blk.size - blockSize
			if remaining >= minBlockSize {
				splitAddr := cur + blockSize
				split := headerAt(splitAddr)
				split.size = remaining
				split.next = blk.next
				split.magic = 0

				linkFreeSucc(prev, splitAddr)
				blk.size = blockSize
			} else {
				linkFreeSucc(prev, blk.next)
			}

			blk.next = 0
			blk.magic = blockMagic
			return unsafe.Pointer(cur + headerSize)
		}

		prev = cur
		cur = blk.next
	}

	panicFn(errOutOfMemory)
	return nil
}

// linkFreeSucc rewires the free list so that succ follows prev (or becomes
// the head when prev is zero).
func linkFreeSucc(prev, succ uintptr) {
	if prev == 0 {
		freeListHead = succ
		return
	}
	headerAt(prev).next = succ
}

// Free returns a block previously obtained from Alloc to the free list,
// coalescing it with its address-order neighbors when they are adjacent.
// A missing magic, an out-of-range pointer, or a pointer already on the
// free list are all kernel bugs and are fatal.
func Free(ptr unsafe.Pointer) {
	hdrAddr := uintptr(ptr) - headerSize
	if hdrAddr < poolStart || hdrAddr >= poolEnd {
		panicFn(errOutOfRange)
		return
	}

	lock.Acquire()
	defer lock.Release()

	blk := headerAt(hdrAddr)
	if blk.magic != blockMagic {
		panicFn(errBadMagic)
		return
	}

	for cur := freeListHead; cur != 0; cur = headerAt(cur).next {
		if cur == hdrAddr {
			panicFn(errDoubleFree)
			return
		}
	}

	blk.magic = 0

	var prev uintptr
	cur := freeListHead
	for cur != 0 && cur < hdrAddr {
		prev = cur
		cur = headerAt(cur).next
	}
	blk.next = cur
	linkFreeSucc(prev, hdrAddr)

	coalesce(prev, hdrAddr)
}

// coalesce merges the block at addr with its immediate free-list neighbors
// on both sides when they are contiguous in address space.
func coalesce(prev, addr uintptr) {
	blk := headerAt(addr)
	if blk.next != 0 && addr+blk.size == blk.next {
		next := headerAt(blk.next)
		blk.size += next.size
		blk.next = next.next
	}

	if prev != 0 {
		pblk := headerAt(prev)
		if prev+pblk.size == addr {
			pblk.size += blk.size
			pblk.next = blk.next
		}
	}
}

// FreeBytes returns the total number of bytes currently available for
// allocation across the free list, header bytes included. It is intended
// for tests asserting that coalescing restores the pre-allocation total.
func FreeBytes() uintptr {
	lock.Acquire()
	defer lock.Release()

	var total uintptr
	for cur := freeListHead; cur != 0; cur = headerAt(cur).next {
		total += headerAt(cur).size
	}
	return total
}
