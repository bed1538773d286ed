// Package pmm implements the kernel's physical frame allocator.
package pmm

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/multiboot"
	"kestrel/kernel/sync"
)

var (
	// FrameAllocator is a BitmapAllocator instance that serves as the
	// primary allocator for reserving physical frames.
	FrameAllocator BitmapAllocator

	// visitMemRegionsFn is used by tests to supply a custom memory map.
	visitMemRegionsFn = multiboot.VisitMemRegions
)

// Claim reserves the frame that contains physAddr using FrameAllocator.
func Claim(physAddr mm.PhysAddr) (mm.PhysAddr, *kernel.Error) {
	return FrameAllocator.Claim(physAddr)
}

// ClaimRange reserves count frames starting at physAddr using FrameAllocator.
func ClaimRange(physAddr mm.PhysAddr, count uint32) (mm.PhysAddr, int, *kernel.Error) {
	return FrameAllocator.ClaimRange(physAddr, count)
}

// GetPage claims the first free frame using FrameAllocator.
func GetPage() (mm.PhysAddr, *kernel.Error) {
	return FrameAllocator.GetPage()
}

// GetPages claims count physically contiguous frames using FrameAllocator.
func GetPages(count uint32) (mm.PhysAddr, *kernel.Error) {
	return FrameAllocator.GetPages(count)
}

// FreePage releases a frame previously claimed from FrameAllocator.
func FreePage(physAddr mm.PhysAddr) {
	FrameAllocator.FreePage(physAddr)
}

// IsClaimed reports whether the frame that contains physAddr is claimed.
func IsClaimed(physAddr mm.PhysAddr) bool {
	return FrameAllocator.IsClaimed(physAddr)
}

// regionFrames returns the range of whole frames [start, end) that are
// contained in a memory map region. Reported addresses may not be
// page-aligned; the start is rounded up and the end rounded down.
func regionFrames(region *multiboot.MemoryMapEntry) (uint64, uint64) {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	start := (region.PhysAddress + pageSizeMinus1) >> mm.PageShift
	end := (region.PhysAddress + region.Length) >> mm.PageShift
	if end < start {
		end = start
	}
	return start, end
}

// ReserveMemoryMap claims every frame that the boot loader's memory map does
// not report as available: frames inside reserved regions, frames in holes
// between available regions and every frame above the highest available
// address. Frames that are already claimed (e.g. the kernel image) are left
// untouched so the operation is idempotent.
func ReserveMemoryMap() {
	sync.EnterCritical()
	defer sync.ExitCritical()

	// Claim the gaps between available regions. Regions may be reported
	// out of order or overlap so select the next region by its start frame.
	for cursor := uint64(0); ; {
		nextStart, nextEnd, found := uint64(0), uint64(0), false
		visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
			if region.Type != multiboot.MemAvailable {
				return true
			}

			start, end := regionFrames(region)
			if end <= cursor || start == end {
				return true
			}

			if !found || start < nextStart {
				nextStart, nextEnd, found = start, end, true
			}
			return true
		})

		if !found {
			FrameAllocator.markRange(cursor, uint64(mm.MaxFrames))
			break
		}

		if nextStart > cursor {
			FrameAllocator.markRange(cursor, nextStart)
		}
		cursor = nextEnd
	}

	// Claim frames that overlap a non-available region, rounding outwards.
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable || region.Length == 0 {
			return true
		}

		pageSizeMinus1 := uint64(mm.PageSize - 1)
		start := region.PhysAddress >> mm.PageShift
		end := (region.PhysAddress + region.Length + pageSizeMinus1) >> mm.PageShift
		FrameAllocator.markRange(start, end)
		return true
	})
}

// PrintMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map together with the
// allocator statistics.
func PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] frames: %d used, %d free\n", FrameAllocator.UsedFrames(), FrameAllocator.FreeFrames())
}
