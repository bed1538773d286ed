// Package zone describes the virtual memory regions (stacks, heaps and
// anonymous mappings) that are backed by physical frames on behalf of the
// kernel or a process.
package zone

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/sync"
)

// Kind describes how a zone is used.
type Kind uint8

const (
	// KindStack zones grow down from their top address.
	KindStack Kind = iota

	// KindHeap zones grow up from their offset and are managed by a heap
	// allocator.
	KindHeap

	// KindAnonymous zones are flat mmap-style regions.
	KindAnonymous
)

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	switch k {
	case KindStack:
		return "stack"
	case KindHeap:
		return "heap"
	case KindAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Flag controls the protection and backing of a zone.
type Flag uint8

const (
	// FlagWritable maps the zone pages as writable.
	FlagWritable Flag = 1 << iota

	// FlagUser places the zone in the user window and makes its pages
	// accessible from user mode.
	FlagUser

	// FlagContiguous backs the zone with physically contiguous frames.
	FlagContiguous
)

var (
	errInvalidSize = &kernel.Error{Module: "zone", Message: "zone size must be greater than zero", Kind: kernel.KindInvalidArgument}
	errNoAllocator = &kernel.Error{Module: "zone", Message: "heap zones require an allocator", Kind: kernel.KindInvalidArgument}

	// overridden by tests
	activeDirectoryFn = vmm.ActiveDirectory
)

// Zone is a contiguous, page-aligned virtual region mapped in a page
// directory. Stacks are described by their lowest address.
type Zone struct {
	Offset mm.VirtAddr
	Size   uintptr
	Kind   Kind
	Flags  Flag

	// Allocator is set for heap zones.
	Allocator kheap.Allocator

	dir vmm.PageDirectory
}

// InitHeap maps size bytes (rounded up to a page multiple) at the page-aligned
// address offset in pd and hands the mapped range to allocator.
func InitHeap(pd vmm.PageDirectory, offset mm.VirtAddr, size uintptr, flags Flag, allocator kheap.Allocator) (Zone, *kernel.Error) {
	if allocator == nil {
		return Zone{}, errNoAllocator
	}

	z, err := mapZone(pd, offset, size, KindHeap, flags)
	if err != nil {
		return Zone{}, err
	}

	// The allocator writes its bookkeeping into the heap so the owning
	// directory must be active while it is initialized.
	z.Allocator = allocator
	z.Enter(func() {
		allocator.Init(z.Offset, z.Size)
	})

	return z, nil
}

// InitStack maps a stack whose highest byte is at top. The zone offset is
// top - (size - 1) rounded down to a page boundary.
func InitStack(pd vmm.PageDirectory, top mm.VirtAddr, size uintptr, flags Flag) (Zone, *kernel.Error) {
	if size == 0 || uintptr(top) < size-1 {
		return Zone{}, errInvalidSize
	}

	bottom := (top - mm.VirtAddr(size-1)) &^ mm.VirtAddr(mm.PageSize-1)
	return mapZone(pd, bottom, uintptr(top-bottom)+1, KindStack, flags)
}

// InitAnonymous maps size bytes (rounded up to a page multiple) in pd. If
// offset is 0 the zone is placed at the first free range of the window
// selected by flags.
func InitAnonymous(pd vmm.PageDirectory, offset mm.VirtAddr, size uintptr, flags Flag) (Zone, *kernel.Error) {
	if offset != 0 {
		return mapZone(pd, offset, size, KindAnonymous, flags)
	}

	if size == 0 {
		return Zone{}, errInvalidSize
	}

	var (
		pages    = mm.PageCount(size)
		pteFlags = flags.pageFlags()
		addr     mm.VirtAddr
		err      *kernel.Error
	)

	if flags&FlagContiguous != 0 {
		addr, err = pd.KGetPageFrames(pages, pteFlags)
	} else {
		addr, err = pd.GetPageFrames(pages, pteFlags)
	}

	if err != nil {
		return Zone{}, err
	}

	return Zone{Offset: addr, Size: pages << mm.PageShift, Kind: KindAnonymous, Flags: flags, dir: pd}, nil
}

func mapZone(pd vmm.PageDirectory, offset mm.VirtAddr, size uintptr, kind Kind, flags Flag) (Zone, *kernel.Error) {
	if size == 0 {
		return Zone{}, errInvalidSize
	}

	var (
		pages    = mm.PageCount(size)
		pteFlags = flags.pageFlags()
		err      *kernel.Error
	)

	if flags&FlagContiguous != 0 {
		_, err = pd.KGetPageFramesAt(offset, pages, pteFlags)
	} else {
		_, err = pd.GetPageFramesAt(offset, pages, pteFlags)
	}

	if err != nil {
		kfmt.Printf("[zone] unable to map %s zone at 0x%x (%d pages): %s\n", kind.String(), uintptr(offset), pages, err.Message)
		return Zone{}, err
	}

	return Zone{Offset: offset, Size: pages << mm.PageShift, Kind: kind, Flags: flags, dir: pd}, nil
}

// pageFlags returns the page table entry flags for pages in a zone.
func (f Flag) pageFlags() vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent
	if f&FlagWritable != 0 {
		flags |= vmm.FlagRW
	}
	if f&FlagUser != 0 {
		flags |= vmm.FlagUserAccessible
	}
	return flags
}

// Top returns the highest address in the zone.
func (z *Zone) Top() mm.VirtAddr {
	return z.Offset + mm.VirtAddr(z.Size-1)
}

// Pages returns the number of pages in the zone.
func (z *Zone) Pages() uintptr {
	return z.Size >> mm.PageShift
}

// Contains returns true if addr falls inside the zone.
func (z *Zone) Contains(addr mm.VirtAddr) bool {
	return z.Size != 0 && addr >= z.Offset && addr <= z.Top()
}

// Mapped returns true if the zone has not been destroyed.
func (z *Zone) Mapped() bool {
	return z.Size != 0
}

// Directory returns the page directory the zone is mapped in.
func (z *Zone) Directory() vmm.PageDirectory {
	return z.dir
}

// Enter runs fn with the zone's page directory active. Interrupts stay
// masked until the previously active directory is restored.
func (z *Zone) Enter(fn func()) {
	sync.EnterCritical()
	defer sync.ExitCritical()

	prev := activeDirectoryFn()
	if prev == z.dir {
		fn()
		return
	}

	z.dir.Activate()
	defer prev.Activate()
	fn()
}

// Destroy unmaps the zone and releases its frames. Destroying a zone twice
// is a no-op.
func (z *Zone) Destroy() {
	if z.Size == 0 {
		return
	}

	z.dir.RemovePageFrames(z.Offset, z.Pages())
	*z = Zone{}
}
