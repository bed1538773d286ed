package kheap

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var (
	// KernelHeap serves general purpose kernel allocations.
	KernelHeap FreeListAllocator

	// KernelPhysHeap serves allocations that must be backed by physically
	// contiguous memory (e.g. DMA buffers).
	KernelPhysHeap FreeListAllocator
)

// Alloc reserves size bytes from the kernel heap.
func Alloc(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	return KernelHeap.Alloc(size, align)
}

// AllocZeroed reserves size bytes from the kernel heap and clears them.
func AllocZeroed(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	return allocZeroed(&KernelHeap, size, align)
}

// Dealloc releases a block obtained from the kernel heap.
func Dealloc(addr mm.VirtAddr, size, align uintptr) {
	KernelHeap.Dealloc(addr, size, align)
}

// Realloc resizes a kernel heap block. The contents up to the smaller of the
// two sizes are preserved. If addr is 0, Realloc behaves like Alloc. On
// failure the original block is left untouched.
func Realloc(addr mm.VirtAddr, oldSize, align, newSize uintptr) (mm.VirtAddr, *kernel.Error) {
	return reallocate(&KernelHeap, addr, oldSize, align, newSize)
}

// PhysAlloc reserves size bytes from the physically contiguous kernel heap.
func PhysAlloc(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	return KernelPhysHeap.Alloc(size, align)
}

// PhysDealloc releases a block obtained with PhysAlloc.
func PhysDealloc(addr mm.VirtAddr, size, align uintptr) {
	KernelPhysHeap.Dealloc(addr, size, align)
}

func allocZeroed(a Allocator, size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	addr, err := a.Alloc(size, align)
	if err != nil {
		return 0, err
	}

	mm.Memset(addr, 0, size)
	return addr, nil
}

func reallocate(a Allocator, addr mm.VirtAddr, oldSize, align, newSize uintptr) (mm.VirtAddr, *kernel.Error) {
	if addr == 0 {
		return a.Alloc(newSize, align)
	}

	newAddr, err := a.Alloc(newSize, align)
	if err != nil {
		return 0, err
	}

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	mm.Memcopy(addr, newAddr, copySize)
	a.Dealloc(addr, oldSize, align)

	return newAddr, nil
}
