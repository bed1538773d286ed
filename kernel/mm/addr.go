package mm

// PhysAddr is an address in the 32-bit physical address space.
type PhysAddr uint32

// VirtAddr is an address in the current virtual address space. It is 32 bits
// wide on the 386 target; it is uintptr-based so it can be converted into a
// pointer via Pointer.
type VirtAddr uintptr

// Frame describes a physical memory page index.
type Frame uint32

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame(physAddr >> PageShift)
}

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() VirtAddr {
	return VirtAddr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr VirtAddr) Page {
	return Page(virtAddr >> PageShift)
}

// PageAligned returns true if the address is a multiple of PageSize.
func (a PhysAddr) PageAligned() bool {
	return uintptr(a)&(PageSize-1) == 0
}

// PageAligned returns true if the address is a multiple of PageSize.
func (a VirtAddr) PageAligned() bool {
	return uintptr(a)&(PageSize-1) == 0
}

// AlignUp rounds the address up to the next multiple of align which must be
// a power of 2.
func (a VirtAddr) AlignUp(align uintptr) VirtAddr {
	return VirtAddr((uintptr(a) + align - 1) &^ (align - 1))
}

// Offset returns the offset of the address within its page.
func (a VirtAddr) Offset() uintptr {
	return uintptr(a) & (PageSize - 1)
}

// KernelVirtAddr returns the higher-half alias of a physical address that
// lies in the region mapped at KernelBase during boot.
func KernelVirtAddr(physAddr PhysAddr) VirtAddr {
	return KernelBase + VirtAddr(physAddr)
}

// PageCount returns the number of pages needed to hold size bytes.
func PageCount(size uintptr) uintptr {
	return (size + PageSize - 1) >> PageShift
}

// PageRoundUp rounds size up to the next multiple of PageSize.
func PageRoundUp(size uintptr) uintptr {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
