package pmm

import (
	"math/bits"
	"testing"

	"kestrel/kernel"
	"kestrel/kernel/mm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// popcount returns the number of set bits in the allocator bitmap.
func popcount(alloc *BitmapAllocator) uint32 {
	var count int
	for _, block := range alloc.blocks {
		count += bits.OnesCount64(block)
	}
	return uint32(count)
}

func TestClaimScenario(t *testing.T) {
	alloc := new(BitmapAllocator)

	addr, err := alloc.Claim(0x100000)
	require.Nil(t, err)
	assert.Equal(t, mm.PhysAddr(0x100000), addr)
	assert.Equal(t, uint32(1), alloc.UsedFrames())
	assert.True(t, alloc.IsClaimed(0x100000))

	_, err = alloc.Claim(0x100000)
	assert.Equal(t, errAlreadyClaimed, err)
	assert.Equal(t, uint32(1), alloc.UsedFrames())

	alloc.FreePage(0x100000)
	assert.Equal(t, uint32(0), alloc.UsedFrames())
	assert.False(t, alloc.IsClaimed(0x100000))

	addr, err = alloc.Claim(0x100000)
	require.Nil(t, err)
	assert.Equal(t, mm.PhysAddr(0x100000), addr)
	assert.Equal(t, popcount(alloc), alloc.UsedFrames())
}

func TestClaimRoundsDownToFrame(t *testing.T) {
	alloc := new(BitmapAllocator)

	addr, err := alloc.Claim(0x2abc)
	require.Nil(t, err)
	assert.Equal(t, mm.PhysAddr(0x2000), addr)
	assert.True(t, alloc.IsClaimed(0x2000))
}

func TestDoubleFreeIsIdempotent(t *testing.T) {
	alloc := new(BitmapAllocator)

	_, err := alloc.Claim(0x5000)
	require.Nil(t, err)
	_, err = alloc.Claim(0x6000)
	require.Nil(t, err)

	alloc.FreePage(0x5000)
	alloc.FreePage(0x5000)
	alloc.FreePage(0x9000)

	assert.Equal(t, uint32(1), alloc.UsedFrames())
	assert.Equal(t, popcount(alloc), alloc.UsedFrames())
	assert.True(t, alloc.IsClaimed(0x6000))
}

func TestClaimRange(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		alloc := new(BitmapAllocator)

		addr, failIndex, err := alloc.ClaimRange(0, 300)
		require.Nil(t, err)
		assert.Equal(t, mm.PhysAddr(0), addr)
		assert.Equal(t, 0, failIndex)
		assert.Equal(t, uint32(300), alloc.UsedFrames())
		assert.True(t, alloc.IsClaimed(299<<mm.PageShift))
		assert.False(t, alloc.IsClaimed(300<<mm.PageShift))
	})

	t.Run("partial claim is not rolled back", func(t *testing.T) {
		alloc := new(BitmapAllocator)
		_, err := alloc.Claim(5 << mm.PageShift)
		require.Nil(t, err)

		_, failIndex, err := alloc.ClaimRange(2<<mm.PageShift, 10)
		assert.Equal(t, errAlreadyClaimed, err)
		assert.Equal(t, 3, failIndex)

		// frames 2, 3 and 4 remain claimed along with frame 5
		assert.Equal(t, uint32(4), alloc.UsedFrames())
		assert.False(t, alloc.IsClaimed(6<<mm.PageShift))
	})

	t.Run("range exceeds address space", func(t *testing.T) {
		alloc := new(BitmapAllocator)

		_, failIndex, err := alloc.ClaimRange(mm.Frame(mm.MaxFrames-2).Address(), 4)
		assert.Equal(t, errInvalidArgument, err)
		assert.Equal(t, 2, failIndex)
	})
}

func TestGetPage(t *testing.T) {
	alloc := new(BitmapAllocator)
	_, _, err := alloc.ClaimRange(0, 130)
	require.Nil(t, err)

	addr, err := alloc.GetPage()
	require.Nil(t, err)
	assert.Equal(t, mm.Frame(130).Address(), addr)

	// a freed frame is reused by the next first-fit scan
	alloc.FreePage(mm.Frame(7).Address())
	addr, err = alloc.GetPage()
	require.Nil(t, err)
	assert.Equal(t, mm.Frame(7).Address(), addr)
	assert.Equal(t, uint32(131), alloc.UsedFrames())
}

func TestGetPageOutOfMemory(t *testing.T) {
	alloc := new(BitmapAllocator)
	alloc.markRange(0, uint64(mm.MaxFrames))
	assert.Equal(t, mm.MaxFrames, alloc.UsedFrames())
	assert.Equal(t, uint32(0), alloc.FreeFrames())

	_, err := alloc.GetPage()
	assert.Equal(t, errOutOfMemory, err)
	assert.True(t, kernel.ErrOutOfMemory.Kind == err.Kind)

	_, err = alloc.GetPages(1)
	assert.Equal(t, errOutOfMemory, err)
}

func TestGetPages(t *testing.T) {
	t.Run("run spans block boundary", func(t *testing.T) {
		alloc := new(BitmapAllocator)
		_, _, err := alloc.ClaimRange(0, 60)
		require.Nil(t, err)
		// leave a 2-frame hole that is too small for the request
		_, err = alloc.Claim(mm.Frame(62).Address())
		require.Nil(t, err)

		before := alloc.UsedFrames()
		addr, err := alloc.GetPages(8)
		require.Nil(t, err)
		assert.Equal(t, mm.Frame(63).Address(), addr)

		for frame := mm.Frame(63); frame < 71; frame++ {
			assert.True(t, alloc.IsClaimed(frame.Address()), "frame %d", frame)
		}
		assert.False(t, alloc.IsClaimed(mm.Frame(60).Address()))
		assert.False(t, alloc.IsClaimed(mm.Frame(71).Address()))
		assert.Equal(t, before+8, alloc.UsedFrames())
		assert.Equal(t, popcount(alloc), alloc.UsedFrames())
	})

	t.Run("skips full blocks", func(t *testing.T) {
		alloc := new(BitmapAllocator)
		alloc.markRange(0, 64*4)

		addr, err := alloc.GetPages(100)
		require.Nil(t, err)
		assert.Equal(t, mm.Frame(256).Address(), addr)
	})

	t.Run("zero count", func(t *testing.T) {
		alloc := new(BitmapAllocator)

		_, err := alloc.GetPages(0)
		assert.Equal(t, errInvalidArgument, err)
		assert.Equal(t, uint32(0), alloc.UsedFrames())
	})

	t.Run("failed search does not claim frames", func(t *testing.T) {
		alloc := new(BitmapAllocator)
		// only every other frame is free
		for frame := uint64(0); frame < uint64(mm.MaxFrames); frame += 2 {
			alloc.markFrame(mm.Frame(frame), true)
		}
		before := alloc.UsedFrames()

		_, err := alloc.GetPages(2)
		assert.Equal(t, errOutOfMemory, err)
		assert.Equal(t, before, alloc.UsedFrames())
	})
}

func TestMarkRangePreservesExistingClaims(t *testing.T) {
	alloc := new(BitmapAllocator)
	_, err := alloc.Claim(mm.Frame(70).Address())
	require.Nil(t, err)

	alloc.markRange(64, 200)
	assert.Equal(t, uint32(136), alloc.UsedFrames())

	alloc.markRange(0, 200)
	assert.Equal(t, uint32(200), alloc.UsedFrames())
	assert.Equal(t, popcount(alloc), alloc.UsedFrames())
}
