package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint32(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)
		assert.Equal(t, PhysAddr(frameIndex<<PageShift), frame.Address())
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    PhysAddr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0xfffff000, Frame(MaxFrames - 1)},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expFrame, FrameFromAddress(spec.input), "spec %d", specIndex)
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uintptr(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)
		assert.Equal(t, VirtAddr(pageIndex<<PageShift), page.Address())
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   VirtAddr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
		{KernelBase, Page(0xc0000)},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expPage, PageFromAddress(spec.input), "spec %d", specIndex)
	}
}

func TestAlignmentHelpers(t *testing.T) {
	assert.True(t, PhysAddr(0x100000).PageAligned())
	assert.False(t, PhysAddr(0x100001).PageAligned())
	assert.True(t, VirtAddr(0x2000).PageAligned())
	assert.False(t, VirtAddr(0x2ffc).PageAligned())

	assert.Equal(t, VirtAddr(0x1008), VirtAddr(0x1001).AlignUp(8))
	assert.Equal(t, VirtAddr(0x1000), VirtAddr(0x1000).AlignUp(16))
	assert.Equal(t, uintptr(0xffc), VirtAddr(0x2ffc).Offset())

	assert.Equal(t, uintptr(0), PageCount(0))
	assert.Equal(t, uintptr(1), PageCount(1))
	assert.Equal(t, uintptr(1), PageCount(PageSize))
	assert.Equal(t, uintptr(2), PageCount(PageSize+1))
	assert.Equal(t, 2*PageSize, PageRoundUp(PageSize+1))

	assert.Equal(t, VirtAddr(0xc0100000), KernelVirtAddr(0x100000))
}
