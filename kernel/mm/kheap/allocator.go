// Package kheap provides the kernel heap allocators. A heap allocator manages
// a virtual range that has already been mapped by its owner; it never maps or
// unmaps pages itself.
package kheap

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var (
	errInvalidAlignment = &kernel.Error{Module: "kheap", Message: "alignment must be a power of 2", Kind: kernel.KindInvalidAlignment}
	errInvalidSize      = &kernel.Error{Module: "kheap", Message: "allocation size must be greater than zero", Kind: kernel.KindInvalidArgument}
	errHeapExhausted    = &kernel.Error{Module: "kheap", Message: "heap exhausted", Kind: kernel.KindAllocatorExhausted}
)

// Allocator is implemented by heap allocators.
type Allocator interface {
	// Init hands the virtual range [start, start+size) to the allocator.
	// The range must be mapped and writable.
	Init(start mm.VirtAddr, size uintptr)

	// Alloc reserves size bytes aligned to align which must be a power
	// of 2.
	Alloc(size, align uintptr) (mm.VirtAddr, *kernel.Error)

	// Dealloc releases a block obtained by Alloc. The size and alignment
	// must match the values passed to Alloc.
	Dealloc(addr mm.VirtAddr, size, align uintptr)
}

// alignUp rounds value up to the next multiple of align which must be a
// power of 2.
func alignUp(value, align uintptr) uintptr {
	return (value + align - 1) &^ (align - 1)
}

func isPowerOfTwo(value uintptr) bool {
	return value != 0 && value&(value-1) == 0
}
