package kheap

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

var errBumpOutOfMemory = &kernel.Error{Module: "kheap", Message: "bump allocator out of memory", Kind: kernel.KindOutOfMemory}

// BumpAllocator hands out memory by advancing a pointer. Individual blocks
// cannot be reclaimed; the whole heap is reset once every allocation has
// been released.
type BumpAllocator struct {
	guard sync.Guard

	heapStart, heapEnd mm.VirtAddr
	next               mm.VirtAddr
	allocations        uintptr
}

// Init implements Allocator.
func (a *BumpAllocator) Init(start mm.VirtAddr, size uintptr) {
	a.guard.Acquire()
	a.heapStart, a.heapEnd = start, start+mm.VirtAddr(size)
	a.next = start
	a.allocations = 0
	a.guard.Release()
}

// Alloc implements Allocator.
func (a *BumpAllocator) Alloc(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	if size == 0 {
		return 0, errInvalidSize
	}

	if !isPowerOfTwo(align) {
		return 0, errInvalidAlignment
	}

	a.guard.Acquire()
	defer a.guard.Release()

	start := a.next.AlignUp(align)
	end := start + mm.VirtAddr(size)
	if start < a.next || end < start || end > a.heapEnd {
		return 0, errBumpOutOfMemory
	}

	a.next = end
	a.allocations++
	stats.recordAlloc(size)
	return start, nil
}

// Dealloc implements Allocator. The heap is reset when the last outstanding
// allocation is released.
func (a *BumpAllocator) Dealloc(_ mm.VirtAddr, size, _ uintptr) {
	a.guard.Acquire()
	defer a.guard.Release()

	stats.recordFree(size)
	if a.allocations == 0 {
		return
	}

	if a.allocations--; a.allocations == 0 {
		a.next = a.heapStart
	}
}

// Next returns the address that the next allocation will start from before
// alignment.
func (a *BumpAllocator) Next() mm.VirtAddr {
	return a.next
}

// Allocations returns the number of outstanding allocations.
func (a *BumpAllocator) Allocations() uintptr {
	return a.allocations
}
