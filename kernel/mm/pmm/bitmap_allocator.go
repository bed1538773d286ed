package pmm

import (
	"math/bits"

	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

const (
	// bitmapBlocks is the number of uint64 blocks needed to track every
	// frame in the 4GiB physical address space.
	bitmapBlocks = mm.MaxFrames / 64

	fullBlock = ^uint64(0)
)

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory", Kind: kernel.KindOutOfMemory}
	errAlreadyClaimed  = &kernel.Error{Module: "pmm", Message: "frame already claimed", Kind: kernel.KindAlreadyClaimed}
	errInvalidArgument = &kernel.Error{Module: "pmm", Message: "invalid frame range", Kind: kernel.KindInvalidArgument}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the entire 32-bit physical address space using a
// bitmap with one bit per frame. A set bit means that the frame is claimed by
// exactly one owner.
//
// The bitmap is stored as uint64 blocks; within each block frames are
// tracked starting from the most significant bit so that block 0, bit 63
// corresponds to frame 0.
type BitmapAllocator struct {
	blocks [bitmapBlocks]uint64

	// usedFrames tracks the number of set bits in the bitmap.
	usedFrames uint32
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame. It returns false if the flag was already
// in the requested state.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, claim bool) bool {
	block, mask := frame>>6, uint64(1)<<(63-(frame&63))
	switch {
	case claim && alloc.blocks[block]&mask == 0:
		alloc.blocks[block] |= mask
		alloc.usedFrames++
		return true
	case !claim && alloc.blocks[block]&mask != 0:
		alloc.blocks[block] &^= mask
		alloc.usedFrames--
		return true
	}

	return false
}

func (alloc *BitmapAllocator) isClaimed(frame mm.Frame) bool {
	return alloc.blocks[frame>>6]&(uint64(1)<<(63-(frame&63))) != 0
}

// markRange claims every free frame in [start, end). Frames that are already
// claimed are left untouched.
func (alloc *BitmapAllocator) markRange(start, end uint64) {
	if end > uint64(mm.MaxFrames) {
		end = uint64(mm.MaxFrames)
	}

	for frame := start; frame < end; {
		// Claim whole blocks at once when the range covers them
		if frame&63 == 0 && end-frame >= 64 {
			block := &alloc.blocks[frame>>6]
			alloc.usedFrames += uint32(64 - bits.OnesCount64(*block))
			*block = fullBlock
			frame += 64
			continue
		}

		alloc.markFrame(mm.Frame(frame), true)
		frame++
	}
}

// Claim reserves the frame that contains physAddr. Callers are expected to
// pass frame-aligned addresses; unaligned addresses are rounded down to the
// frame that contains them. Claim returns the frame-aligned address or an
// error if the frame is already claimed, in which case the allocator state
// is not modified.
func (alloc *BitmapAllocator) Claim(physAddr mm.PhysAddr) (mm.PhysAddr, *kernel.Error) {
	sync.EnterCritical()
	defer sync.ExitCritical()

	frame := mm.FrameFromAddress(physAddr)
	if !alloc.markFrame(frame, true) {
		return 0, errAlreadyClaimed
	}

	return frame.Address(), nil
}

// ClaimRange reserves count consecutive frames starting at the frame that
// contains physAddr. It is intended for boot-time ranges that are known to be
// free: if a frame cannot be claimed, ClaimRange stops and returns the index
// (relative to physAddr) of the offending frame. Frames claimed before the
// failure remain claimed.
func (alloc *BitmapAllocator) ClaimRange(physAddr mm.PhysAddr, count uint32) (mm.PhysAddr, int, *kernel.Error) {
	sync.EnterCritical()
	defer sync.ExitCritical()

	start := mm.FrameFromAddress(physAddr)
	for index := uint32(0); index < count; index++ {
		frame := uint64(start) + uint64(index)
		if frame >= uint64(mm.MaxFrames) {
			return 0, int(index), errInvalidArgument
		}

		if !alloc.markFrame(mm.Frame(frame), true) {
			return 0, int(index), errAlreadyClaimed
		}
	}

	return start.Address(), 0, nil
}

// GetPage claims the first free frame in the bitmap and returns its
// physical address.
func (alloc *BitmapAllocator) GetPage() (mm.PhysAddr, *kernel.Error) {
	sync.EnterCritical()
	defer sync.ExitCritical()

	for blockIndex := range alloc.blocks {
		// Skip fully claimed blocks
		block := alloc.blocks[blockIndex]
		if block == fullBlock {
			continue
		}

		frame := mm.Frame(uint32(blockIndex)<<6 + uint32(bits.LeadingZeros64(^block)))
		alloc.markFrame(frame, true)
		return frame.Address(), nil
	}

	return 0, errOutOfMemory
}

// GetPages claims count physically contiguous frames and returns the address
// of the first one. The run may span bitmap block boundaries. Either all
// frames in the run are claimed or none is.
func (alloc *BitmapAllocator) GetPages(count uint32) (mm.PhysAddr, *kernel.Error) {
	if count == 0 {
		return 0, errInvalidArgument
	}

	sync.EnterCritical()
	defer sync.ExitCritical()

	var runStart, runLen uint32
	for frame := uint32(0); frame < mm.MaxFrames; {
		if frame&63 == 0 && alloc.blocks[frame>>6] == fullBlock {
			runLen = 0
			frame += 64
			continue
		}

		if alloc.isClaimed(mm.Frame(frame)) {
			runLen = 0
			frame++
			continue
		}

		if runLen == 0 {
			runStart = frame
		}
		runLen++
		frame++

		if runLen == count {
			for index := uint32(0); index < count; index++ {
				alloc.markFrame(mm.Frame(runStart+index), true)
			}
			return mm.Frame(runStart).Address(), nil
		}
	}

	return 0, errOutOfMemory
}

// FreePage releases the frame that contains physAddr. Freeing a frame that
// is not claimed is a no-op.
func (alloc *BitmapAllocator) FreePage(physAddr mm.PhysAddr) {
	sync.EnterCritical()
	alloc.markFrame(mm.FrameFromAddress(physAddr), false)
	sync.ExitCritical()
}

// IsClaimed returns true if the frame that contains physAddr is claimed.
func (alloc *BitmapAllocator) IsClaimed(physAddr mm.PhysAddr) bool {
	return alloc.isClaimed(mm.FrameFromAddress(physAddr))
}

// UsedFrames returns the number of claimed frames.
func (alloc *BitmapAllocator) UsedFrames() uint32 {
	return alloc.usedFrames
}

// TotalFrames returns the number of frames tracked by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return mm.MaxFrames
}

// FreeFrames returns the number of frames that can still be claimed.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	return mm.MaxFrames - alloc.usedFrames
}
