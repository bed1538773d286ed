//go:build !386

package zone

import (
	"errors"
	"testing"

	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/memtest"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeapBase = mm.VirtAddr(0xd0000000)

func TestKindString(t *testing.T) {
	specs := []struct {
		kind Kind
		exp  string
	}{
		{KindStack, "stack"},
		{KindHeap, "heap"},
		{KindAnonymous, "anonymous"},
		{Kind(42), "unknown"},
	}

	for _, spec := range specs {
		assert.Equal(t, spec.exp, spec.kind.String())
	}
}

func TestPageFlags(t *testing.T) {
	assert.Equal(t, vmm.FlagPresent, Flag(0).pageFlags())
	assert.Equal(t, vmm.FlagPresent|vmm.FlagRW, FlagWritable.pageFlags())
	assert.Equal(t, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible, (FlagWritable | FlagUser | FlagContiguous).pageFlags())
}

func TestInitHeap(t *testing.T) {
	env := memtest.Boot(t, 0, "")
	usedBefore := env.UsedFrames()

	var heap kheap.FreeListAllocator
	z, err := InitHeap(env.Kernel, testHeapBase, 10000, FlagWritable, &heap)
	require.Nil(t, err)

	assert.Equal(t, testHeapBase, z.Offset)
	assert.Equal(t, uintptr(3*mm.PageSize), z.Size)
	assert.Equal(t, uintptr(3), z.Pages())
	assert.Equal(t, KindHeap, z.Kind)
	assert.Equal(t, &heap, z.Allocator)
	assert.Equal(t, env.Kernel, z.Directory())
	assert.Equal(t, testHeapBase+3*mm.VirtAddr(mm.PageSize)-1, z.Top())

	// kernel window tables are pinned so only the zone frames are claimed
	assert.Equal(t, usedBefore+3, env.UsedFrames())

	start, end := heap.Bounds()
	assert.Equal(t, z.Offset, start)
	assert.Equal(t, z.Offset+mm.VirtAddr(z.Size), end)

	addr, err := heap.Alloc(100, 8)
	require.Nil(t, err)
	assert.Equal(t, testHeapBase, addr)
	assert.True(t, z.Contains(addr))
	assert.False(t, z.Contains(z.Top()+1))
	heap.Dealloc(addr, 100, 8)

	z.Destroy()
	assert.False(t, z.Mapped())
	assert.Equal(t, usedBefore, env.UsedFrames())
	_, err = env.Kernel.Translate(testHeapBase)
	assert.Equal(t, vmm.ErrInvalidMapping, err)

	// destroying twice is harmless
	z.Destroy()
	assert.Equal(t, usedBefore, env.UsedFrames())
}

func TestInitHeapContiguous(t *testing.T) {
	env := memtest.Boot(t, 0, "")

	var heap kheap.BumpAllocator
	z, err := InitHeap(env.Kernel, testHeapBase, 4*mm.PageSize, FlagWritable|FlagContiguous, &heap)
	require.Nil(t, err)

	first, err := env.Kernel.Translate(z.Offset)
	require.Nil(t, err)
	for page := uintptr(1); page < z.Pages(); page++ {
		phys, err := env.Kernel.Translate(z.Offset + mm.VirtAddr(page<<mm.PageShift))
		require.Nil(t, err)
		assert.Equal(t, first+mm.PhysAddr(page<<mm.PageShift), phys)
	}

	assert.Equal(t, z.Offset, heap.Next())
}

func TestInitHeapErrors(t *testing.T) {
	env := memtest.Boot(t, 0, "")
	usedBefore := env.UsedFrames()

	var heap kheap.FreeListAllocator
	_, err := InitHeap(env.Kernel, testHeapBase, mm.PageSize, FlagWritable, nil)
	assert.Equal(t, errNoAllocator, err)

	_, err = InitHeap(env.Kernel, testHeapBase, 0, FlagWritable, &heap)
	assert.Equal(t, errInvalidSize, err)

	_, err = InitHeap(env.Kernel, testHeapBase+1, mm.PageSize, FlagWritable, &heap)
	assert.True(t, errors.Is(err, kernel.ErrInvalidAlignment))

	// requests that exceed the installed memory are rolled back
	_, err = InitHeap(env.Kernel, testHeapBase, uintptr(64*mm.Mb), FlagWritable, &heap)
	assert.True(t, errors.Is(err, kernel.ErrOutOfMemory))
	assert.Equal(t, usedBefore, env.UsedFrames())

	// the range is already in use
	z, err := InitHeap(env.Kernel, testHeapBase, mm.PageSize, FlagWritable, &heap)
	require.Nil(t, err)
	_, err = InitHeap(env.Kernel, testHeapBase, mm.PageSize, FlagWritable, &heap)
	assert.True(t, errors.Is(err, kernel.ErrInvalidMapping))
	z.Destroy()
}

func TestInitHeapInInactiveDirectory(t *testing.T) {
	env := memtest.Boot(t, 0, "")

	pd, err := vmm.NewPageDirectory()
	require.Nil(t, err)

	var heap kheap.FreeListAllocator
	z, err := InitHeap(pd, 0x40000000, 2*mm.PageSize, FlagWritable|FlagUser, &heap)
	require.Nil(t, err)

	assert.True(t, env.Kernel.IsActive(), "expected the previously active directory to be restored")
	_, err = env.Kernel.Translate(0x40000000)
	assert.Equal(t, vmm.ErrInvalidMapping, err)
	_, err = pd.Translate(0x40000000)
	assert.Nil(t, err)

	var (
		addr     mm.VirtAddr
		allocErr *kernel.Error
	)
	z.Enter(func() {
		assert.True(t, pd.IsActive())
		addr, allocErr = heap.Alloc(64, 16)
	})
	require.Nil(t, allocErr)
	assert.Equal(t, mm.VirtAddr(0x40000000), addr)
	assert.True(t, env.Kernel.IsActive())

	z.Destroy()
	require.Nil(t, pd.Destroy())
}

func TestEnter(t *testing.T) {
	env := memtest.Boot(t, 0, "")

	pd, err := vmm.NewPageDirectory()
	require.Nil(t, err)

	z, err := InitAnonymous(pd, 0x40000000, mm.PageSize, FlagWritable|FlagUser)
	require.Nil(t, err)
	defer func() {
		z.Destroy()
		require.Nil(t, pd.Destroy())
	}()

	cpu.EnableInterrupts()
	defer cpu.DisableInterrupts()

	var (
		depth      uint32
		interrupts bool
	)
	z.Enter(func() {
		depth = sync.Depth()
		interrupts = cpu.InterruptsEnabled()
		assert.True(t, pd.IsActive())
	})
	assert.Equal(t, uint32(1), depth)
	assert.False(t, interrupts, "expected interrupts to be masked while the zone directory is active")
	assert.True(t, env.Kernel.IsActive())
	assert.True(t, cpu.InterruptsEnabled())

	// the previous directory is restored when fn panics
	assert.Panics(t, func() {
		z.Enter(func() { panic("fault") })
	})
	assert.True(t, env.Kernel.IsActive())
	assert.Zero(t, sync.Depth())
	assert.True(t, cpu.InterruptsEnabled())

	// entering a zone of the active directory still masks interrupts
	kz, err := InitAnonymous(env.Kernel, 0, mm.PageSize, FlagWritable)
	require.Nil(t, err)
	kz.Enter(func() { depth = sync.Depth() })
	assert.Equal(t, uint32(1), depth)
	kz.Destroy()
}

func TestInitStack(t *testing.T) {
	env := memtest.Boot(t, 0, "")

	pd, err := vmm.NewPageDirectory()
	require.Nil(t, err)

	specs := []struct {
		top       mm.VirtAddr
		size      uintptr
		expOffset mm.VirtAddr
		expSize   uintptr
	}{
		{0xbfffffff, 16 * 1024, 0xbfffc000, 16 * 1024},
		{0xbfffffff, 5000, 0xbfffe000, 2 * mm.PageSize},
		{0x7fffffff, 1, 0x7ffff000, mm.PageSize},
	}

	for specIndex, spec := range specs {
		z, err := InitStack(pd, spec.top, spec.size, FlagWritable|FlagUser)
		require.Nil(t, err, "[spec %d]", specIndex)

		assert.Equal(t, KindStack, z.Kind, "[spec %d]", specIndex)
		assert.Equal(t, spec.expOffset, z.Offset, "[spec %d]", specIndex)
		assert.Equal(t, spec.expSize, z.Size, "[spec %d]", specIndex)
		assert.Equal(t, spec.top, z.Top(), "[spec %d]", specIndex)

		_, err = pd.Translate(spec.top)
		assert.Nil(t, err, "[spec %d]", specIndex)

		z.Destroy()
		_, err = pd.Translate(spec.top)
		assert.Equal(t, vmm.ErrInvalidMapping, err, "[spec %d]", specIndex)
	}

	_, err = InitStack(pd, 0xbfffffff, 0, FlagWritable)
	assert.Equal(t, errInvalidSize, err)

	_, err = InitStack(pd, 0x10, 0x1000, FlagWritable)
	assert.Equal(t, errInvalidSize, err)

	require.Nil(t, pd.Destroy())
	assert.True(t, env.Kernel.IsActive())
}

func TestInitAnonymous(t *testing.T) {
	env := memtest.Boot(t, 0, "")
	usedBefore := env.UsedFrames()

	pd, err := vmm.NewPageDirectory()
	require.Nil(t, err)

	z, err := InitAnonymous(pd, 0, 3*mm.PageSize, FlagWritable|FlagUser)
	require.Nil(t, err)
	assert.Equal(t, KindAnonymous, z.Kind)
	assert.True(t, z.Offset >= vmm.UserWindowStart && z.Top() < vmm.UserWindowEnd)

	fixed, err := InitAnonymous(pd, 0x50000000, 100, FlagWritable|FlagUser|FlagContiguous)
	require.Nil(t, err)
	assert.Equal(t, mm.VirtAddr(0x50000000), fixed.Offset)
	assert.Equal(t, uintptr(mm.PageSize), fixed.Size)

	kernelZone, err := InitAnonymous(env.Kernel, 0, mm.PageSize, FlagWritable|FlagContiguous)
	require.Nil(t, err)
	assert.True(t, kernelZone.Offset >= vmm.KernelWindowStart && kernelZone.Top() < vmm.KernelWindowEnd)

	_, err = InitAnonymous(pd, 0, 0, FlagWritable)
	assert.Equal(t, errInvalidSize, err)

	// kernel zones cannot be placed in the user window
	_, err = InitAnonymous(env.Kernel, 0x50000000, mm.PageSize, FlagWritable)
	assert.NotNil(t, err)

	z.Destroy()
	fixed.Destroy()
	kernelZone.Destroy()
	require.Nil(t, pd.Destroy())
	assert.Equal(t, usedBefore, env.UsedFrames())
}
