package kheap

import (
	"unsafe"

	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

// freeNode is stored at the start of every free region.
type freeNode struct {
	size uintptr
	next mm.VirtAddr
}

const (
	// nodeSize is the smallest region that can be tracked by the free
	// list. Nodes are aligned to their size so they never straddle a
	// page boundary.
	nodeSize  = unsafe.Sizeof(freeNode{})
	nodeAlign = nodeSize
)

// nodeAt reinterprets the free region starting at addr as a freeNode. It is
// the only place where free list memory is accessed.
func nodeAt(addr mm.VirtAddr) *freeNode {
	return (*freeNode)(addr.Pointer())
}

// FreeListAllocator tracks free regions with an intrusive singly-linked list
// threaded through the free memory itself. Allocation is first-fit. Released
// blocks are pushed at the head of the list and are not merged with their
// neighbors unless Coalesce is set, in which case the list is kept sorted by
// address and adjacent regions are merged.
type FreeListAllocator struct {
	guard sync.Guard

	// Coalesce must be set before Init is called.
	Coalesce bool

	heapStart, heapEnd mm.VirtAddr

	// head is the address of the first free region or 0 if the list is
	// empty.
	head mm.VirtAddr
}

// effectiveSize returns the number of bytes reserved for a request of size
// bytes. Every block must be able to hold a freeNode once it is released.
func effectiveSize(size uintptr) uintptr {
	if size < nodeSize {
		size = nodeSize
	}
	return alignUp(size, nodeAlign)
}

// Init implements Allocator. The range is trimmed to nodeAlign boundaries.
func (a *FreeListAllocator) Init(start mm.VirtAddr, size uintptr) {
	a.guard.Acquire()
	defer a.guard.Release()

	end := (start + mm.VirtAddr(size)) &^ mm.VirtAddr(nodeAlign-1)
	start = start.AlignUp(nodeAlign)

	a.heapStart, a.heapEnd, a.head = start, start, 0
	if end <= start || uintptr(end-start) < nodeSize {
		return
	}

	a.heapEnd = end
	a.insert(start, uintptr(end-start))
}

// Alloc implements Allocator.
func (a *FreeListAllocator) Alloc(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	if size == 0 {
		return 0, errInvalidSize
	}

	if !isPowerOfTwo(align) {
		return 0, errInvalidAlignment
	}

	if align < nodeAlign {
		align = nodeAlign
	}

	a.guard.Acquire()
	defer a.guard.Release()

	effSize := effectiveSize(size)
	for prev, cur := mm.VirtAddr(0), a.head; cur != 0; prev, cur = cur, nodeAt(cur).next {
		node := nodeAt(cur)
		regionEnd := cur + mm.VirtAddr(node.size)

		// The gap in front of an aligned block must either be empty or
		// large enough to remain on the free list.
		allocStart := cur.AlignUp(align)
		if front := uintptr(allocStart - cur); front != 0 && front < nodeSize {
			allocStart = (cur + mm.VirtAddr(nodeSize)).AlignUp(align)
		}

		allocEnd := allocStart + mm.VirtAddr(effSize)
		if allocEnd < allocStart || allocEnd > regionEnd {
			continue
		}

		// Reject the region if the leftover tail is too small to
		// be tracked.
		tail := uintptr(regionEnd - allocEnd)
		if tail != 0 && tail < nodeSize {
			continue
		}

		a.unlink(prev, cur)
		if front := uintptr(allocStart - cur); front != 0 {
			a.insert(cur, front)
		}
		if tail != 0 {
			a.insert(allocEnd, tail)
		}

		stats.recordAlloc(size)
		return allocStart, nil
	}

	return 0, errHeapExhausted
}

// Dealloc implements Allocator.
func (a *FreeListAllocator) Dealloc(addr mm.VirtAddr, size, _ uintptr) {
	a.guard.Acquire()
	defer a.guard.Release()

	effSize := effectiveSize(size)
	if addr < a.heapStart || addr+mm.VirtAddr(effSize) > a.heapEnd || uintptr(addr)&(nodeAlign-1) != 0 {
		kfmt.Printf("[kheap] ignoring release of block 0x%x outside of the heap\n", uintptr(addr))
		return
	}

	a.insert(addr, effSize)
	stats.recordFree(size)
}

// FreeBytes returns the total size of the regions on the free list.
func (a *FreeListAllocator) FreeBytes() uintptr {
	var total uintptr
	a.VisitFree(func(_ mm.VirtAddr, size uintptr) bool {
		total += size
		return true
	})
	return total
}

// VisitFree invokes visitor for each region on the free list in list order.
func (a *FreeListAllocator) VisitFree(visitor func(addr mm.VirtAddr, size uintptr) bool) {
	for cur := a.head; cur != 0; cur = nodeAt(cur).next {
		if !visitor(cur, nodeAt(cur).size) {
			return
		}
	}
}

// Bounds returns the range managed by the allocator.
func (a *FreeListAllocator) Bounds() (mm.VirtAddr, mm.VirtAddr) {
	return a.heapStart, a.heapEnd
}

func (a *FreeListAllocator) unlink(prev, cur mm.VirtAddr) {
	next := nodeAt(cur).next
	if prev == 0 {
		a.head = next
		return
	}
	nodeAt(prev).next = next
}

// insert adds the region [addr, addr+size) to the free list.
func (a *FreeListAllocator) insert(addr mm.VirtAddr, size uintptr) {
	if !a.Coalesce {
		node := nodeAt(addr)
		node.size, node.next = size, a.head
		a.head = addr
		return
	}

	// Find the neighbors of addr in the address-ordered list
	prev, next := mm.VirtAddr(0), a.head
	for next != 0 && next < addr {
		prev, next = next, nodeAt(next).next
	}

	node := nodeAt(addr)
	node.size, node.next = size, next
	if next != 0 && addr+mm.VirtAddr(size) == next {
		node.size += nodeAt(next).size
		node.next = nodeAt(next).next
	}

	if prev == 0 {
		a.head = addr
		return
	}

	prevNode := nodeAt(prev)
	if prev+mm.VirtAddr(prevNode.size) == addr {
		prevNode.size += node.size
		prevNode.next = node.next
		return
	}
	prevNode.next = addr
}
