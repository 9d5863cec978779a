package heap

import (
	"testing"
	"unsafe"
)

// withPool runs fn over a fresh allocator backed by a plain Go buffer,
// restoring the previous pool afterwards.
func withPool(t *testing.T, size int, fn func()) {
	buf := make([]byte, size)
	origStart, origEnd, origHead := poolStart, poolEnd, freeListHead
	defer func() {
		poolStart, poolEnd, freeListHead = origStart, origEnd, origHead
	}()

	start := uintptr(unsafe.Pointer(&buf[0]))
	resetPool(start, start+uintptr(size))
	fn()
}

func TestAllocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	withPool(t, 4096, func() {
		a := Alloc(64)
		b := Alloc(128)

		if a == nil || b == nil {
			t.Fatal("expected both allocations to succeed")
		}
		if a == b {
			t.Fatal("expected distinct blocks")
		}
	})
}

func TestFreeRestoresCapacity(t *testing.T) {
	withPool(t, 4096, func() {
		before := FreeBytes()

		p := Alloc(256)
		if FreeBytes() == before {
			t.Fatal("expected free bytes to drop after Alloc")
		}

		Free(p)
		if after := FreeBytes(); after != before {
			t.Errorf("expected free bytes to return to %d after Free; got %d", before, after)
		}
	})
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	withPool(t, 4096, func() {
		before := FreeBytes()

		a := Alloc(64)
		b := Alloc(64)
		c := Alloc(64)

		Free(a)
		Free(c)
		Free(b)

		if after := FreeBytes(); after != before {
			t.Errorf("expected full coalescing back to %d bytes; got %d", before, after)
		}

		// the pool should now be a single free block again
		if headerAt(freeListHead).next != 0 {
			t.Error("expected exactly one free block after coalescing everything")
		}
	})
}

func mockPanic(t *testing.T) *bool {
	origPanicFn := panicFn
	fired := false
	panicFn = func(e interface{}) { fired = true }
	t.Cleanup(func() { panicFn = origPanicFn })
	return &fired
}

func TestAllocPanicsOnOutOfMemory(t *testing.T) {
	withPool(t, 256, func() {
		fired := mockPanic(t)

		Alloc(4096)

		if !*fired {
			t.Error("expected Alloc to panic when the pool is exhausted")
		}
	})
}

func TestFreePanicsOnBadMagic(t *testing.T) {
	withPool(t, 4096, func() {
		p := Alloc(64)
		fired := mockPanic(t)

		hdrAddr := uintptr(p) - headerSize
		headerAt(hdrAddr).magic = 0
		Free(p)

		if !*fired {
			t.Error("expected Free to panic on a corrupted magic")
		}
	})
}

func TestFreePanicsOnDoubleFree(t *testing.T) {
	withPool(t, 4096, func() {
		p := Alloc(64)
		Free(p)

		fired := mockPanic(t)
		Free(p)

		if !*fired {
			t.Error("expected a second Free of the same pointer to panic")
		}
	})
}
