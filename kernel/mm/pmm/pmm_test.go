package pmm

import (
	"bytes"
	"testing"

	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/multiboot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockMemoryMap(t *testing.T, regions []multiboot.MemoryMapEntry) {
	t.Helper()

	origVisit := visitMemRegionsFn
	t.Cleanup(func() {
		visitMemRegionsFn = origVisit
		FrameAllocator = BitmapAllocator{}
	})

	visitMemRegionsFn = func(visitor multiboot.MemRegionVisitor) {
		for i := range regions {
			if !visitor(&regions[i]) {
				return
			}
		}
	}
}

func TestReserveMemoryMap(t *testing.T) {
	mockMemoryMap(t, []multiboot.MemoryMapEntry{
		// reported out of order to exercise the region selection
		{PhysAddress: 0x100000, Length: 0x700000, Type: multiboot.MemAvailable},
		{PhysAddress: 0x0, Length: 0x9fc00, Type: multiboot.MemAvailable},
		{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
		{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
		{PhysAddress: 0x300800, Length: 0x1000, Type: multiboot.MemAcpiReclaimable},
	})

	// kernel image claimed before the memory map is processed
	_, _, err := ClaimRange(0x100000, 16)
	require.Nil(t, err)

	ReserveMemoryMap()

	specs := []struct {
		addr    mm.PhysAddr
		claimed bool
	}{
		{0x0, false},
		{0x9e000, false},
		// partial frame at the end of the first region
		{0x9f000, true},
		// hole between 0xa0000 and 0xf0000
		{0xa0000, true},
		{0xef000, true},
		{0xff000, true},
		// kernel image
		{0x100000, true},
		{0x10f000, true},
		{0x110000, false},
		// reserved region straddling two frames
		{0x300000, true},
		{0x301000, true},
		{0x302000, false},
		{0x7ff000, false},
		// above highest available address
		{0x800000, true},
		{0xfffff000, true},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.claimed, IsClaimed(spec.addr), "[spec %d] addr 0x%x", specIndex, spec.addr)
	}

	// available frames: 159 in the first region, 0x700 in the second
	// minus the kernel image and the two ACPI frames
	expFree := uint32(159 + 0x700 - 16 - 2)
	assert.Equal(t, expFree, FrameAllocator.FreeFrames())

	// reserving again does not change anything
	ReserveMemoryMap()
	assert.Equal(t, expFree, FrameAllocator.FreeFrames())
	assert.Equal(t, popcount(&FrameAllocator), FrameAllocator.UsedFrames())
}

func TestReserveMemoryMapOverlappingRegions(t *testing.T) {
	mockMemoryMap(t, []multiboot.MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x200000, Type: multiboot.MemAvailable},
		{PhysAddress: 0x100000, Length: 0x200000, Type: multiboot.MemAvailable},
		{PhysAddress: 0x500000, Length: 0x1000, Type: multiboot.MemAvailable},
	})

	ReserveMemoryMap()

	assert.False(t, IsClaimed(0x0))
	assert.False(t, IsClaimed(0x2ff000))
	assert.True(t, IsClaimed(0x300000))
	assert.True(t, IsClaimed(0x4ff000))
	assert.False(t, IsClaimed(0x500000))
	assert.True(t, IsClaimed(0x501000))
	assert.Equal(t, uint32(0x301), FrameAllocator.FreeFrames())
}

func TestPackageLevelAllocator(t *testing.T) {
	mockMemoryMap(t, nil)

	addr, err := GetPage()
	require.Nil(t, err)
	assert.Equal(t, mm.PhysAddr(0), addr)

	addr, err = GetPages(4)
	require.Nil(t, err)
	assert.Equal(t, mm.PhysAddr(0x1000), addr)

	_, err = Claim(0x1000)
	assert.Equal(t, errAlreadyClaimed, err)

	FreePage(0x1000)
	assert.False(t, IsClaimed(0x1000))
	assert.Equal(t, uint32(4), FrameAllocator.UsedFrames())
}

func TestPrintMemoryMap(t *testing.T) {
	mockMemoryMap(t, []multiboot.MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x9fc00, Type: multiboot.MemAvailable},
		{PhysAddress: 0x100000, Length: 0x700000, Type: multiboot.MemAvailable},
		{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
	})

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	PrintMemoryMap()

	out := buf.String()
	assert.Contains(t, out, "[pmm] system memory map:")
	assert.Contains(t, out, "type: reserved")
	assert.Contains(t, out, "[pmm] available memory: 7806Kb")
}
