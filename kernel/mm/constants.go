package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// KernelBase is the virtual address where the higher-half kernel
	// address space begins. The first 4MiB of physical memory (which
	// contains the kernel image) is visible at KernelBase after paging
	// has been bootstrapped.
	KernelBase = VirtAddr(0xc0000000)

	// LowMemoryLimit marks the end of the legacy BIOS/VGA area. The boot
	// footprint always extends at least this far so the area is never
	// handed out by the physical allocator.
	LowMemoryLimit = PhysAddr(0x100000)

	// MaxFrames is the number of 4KiB frames in a 4GiB physical address space.
	MaxFrames = uint32(1 << (32 - PageShift))
)
