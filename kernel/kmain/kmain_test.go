//go:build !386

package kmain

import (
	"errors"
	"runtime"
	"testing"
	"unsafe"

	"kestrel/kernel"
	"kestrel/kernel/hal/hosted"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/memtest"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/multiboot"
	"kestrel/kernel/proc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMachine returns a machine whose boot loader passed cmdLine to the
// kernel along with the BootInfo for the memtest layout.
func newMachine(t *testing.T, cmdLine string) (*hosted.Machine, BootInfo) {
	t.Helper()

	m := memtest.NewMachine(t, 0, cmdLine)
	t.Cleanup(func() {
		kheap.KernelHeap = kheap.FreeListAllocator{}
		kheap.KernelPhysHeap = kheap.FreeListAllocator{}
	})

	return m, BootInfo{
		MultibootInfoPtr: m.MultibootInfoPtr(),
		KernelStart:      memtest.KernelStart,
		KernelEnd:        memtest.KernelEnd,
		BootDir:          memtest.DirPhys,
		BootTable:        memtest.TablePhys,
	}
}

// loadCmdLine passes a multiboot info block that only contains cmdLine to
// the kernel.
func loadCmdLine(t *testing.T, cmdLine string) {
	info := hosted.MultibootInfo(cmdLine, nil)
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&info[0])))
	t.Cleanup(func() {
		multiboot.SetInfoPtr(0)
		runtime.KeepAlive(info)
	})
}

func TestParseConfig(t *testing.T) {
	defaults := DefaultConfig()

	specs := []struct {
		cmdLine string
		exp     func(*Config)
	}{
		{"", func(*Config) {}},
		{"quiet", func(*Config) {}},
		{
			"kheap=2M kphysheap=512K kstack=32k ustack=8K uheap=1m coalesce=on",
			func(cfg *Config) {
				cfg.KernelHeapSize = uintptr(2 * mm.Mb)
				cfg.KernelPhysHeapSize = uintptr(512 * mm.Kb)
				cfg.KernelStackSize = uintptr(32 * mm.Kb)
				cfg.UserStackSize = uintptr(8 * mm.Kb)
				cfg.UserHeapSize = uintptr(1 * mm.Mb)
				cfg.Coalesce = true
			},
		},
		{"coalesce=on coalesce=off", func(*Config) {}},
		{"kheap=lots kstack=0 uheap=2G coalesce=maybe", func(*Config) {}},
		{"uheap=12288", func(cfg *Config) { cfg.UserHeapSize = 12288 }},
	}

	for specIndex, spec := range specs {
		loadCmdLine(t, spec.cmdLine)

		exp := defaults
		spec.exp(&exp)
		assert.Equal(t, exp, ParseConfig(), "[spec %d] cmdline: %q", specIndex, spec.cmdLine)
	}
}

func TestBoot(t *testing.T) {
	m, info := newMachine(t, "kheap=1M kphysheap=256K uheap=32K coalesce=on")

	stage, err := Boot(info)
	require.Nil(t, err)

	assert.Equal(t, uintptr(1*mm.Mb), stage.Config.KernelHeapSize)
	assert.True(t, stage.Config.Coalesce)
	assert.True(t, stage.PagingStage.Kernel.IsActive())
	assert.Equal(t, uintptr(memtest.DirPhys), m.ActivePDT())
	assert.Equal(t, vmm.KernelDirectory(), stage.PagingStage.Kernel)

	assert.Equal(t, KernelHeapBase, stage.KernelHeap.Offset)
	assert.Equal(t, uintptr(1*mm.Mb), stage.KernelHeap.Size)
	assert.Equal(t, KernelPhysHeapBase, stage.KernelPhysHeap.Offset)
	assert.Equal(t, uintptr(256*mm.Kb), stage.KernelPhysHeap.Size)
	assert.Equal(t, KernelStackTop, stage.KernelStack.Top())
	assert.Equal(t, uintptr(64*mm.Kb), stage.KernelStack.Size)

	// the physically contiguous heap is backed by consecutive frames
	first, err := stage.PagingStage.Kernel.Translate(KernelPhysHeapBase)
	require.Nil(t, err)
	last, err := stage.PagingStage.Kernel.Translate(KernelPhysHeapBase + mm.VirtAddr(stage.KernelPhysHeap.Size-mm.PageSize))
	require.Nil(t, err)
	assert.Equal(t, first+mm.PhysAddr(stage.KernelPhysHeap.Size-mm.PageSize), last)

	// the global heap entry points are served by the mapped zones
	assert.True(t, kheap.KernelHeap.Coalesce)
	addr, err := kheap.Alloc(128, 16)
	require.Nil(t, err)
	assert.Equal(t, KernelHeapBase, addr)
	kheap.Dealloc(addr, 128, 16)

	physAddr, err := kheap.PhysAlloc(128, 16)
	require.Nil(t, err)
	assert.Equal(t, KernelPhysHeapBase, physAddr)
	kheap.PhysDealloc(physAddr, 128, 16)

	require.NotNil(t, stage.Kernel)
	assert.Equal(t, proc.KernelPID, stage.Kernel.PID)
	assert.Equal(t, stage.Kernel, proc.CurrentProcess())

	p, err := stage.Spawn(nil, 0x1000)
	require.Nil(t, err)
	assert.Equal(t, uintptr(32*mm.Kb), p.Heap.Size)
	assert.Equal(t, uintptr(16*mm.Kb), p.Stack.Size)
	assert.Equal(t, stage.Kernel, p.Parent)
	require.Nil(t, p.Remove())
}

func TestBootStagesAreOneShot(t *testing.T) {
	_, info := newMachine(t, "")

	physical, err := InitPhysical(info)
	require.Nil(t, err)

	// the footprint can only be claimed once
	_, err = InitPhysical(info)
	assert.True(t, errors.Is(err, kernel.ErrAlreadyClaimed))

	_, err = physical.InitPaging()
	require.Nil(t, err)

	_, err = physical.InitPaging()
	require.NotNil(t, err)
	assert.Equal(t, kernel.KindBootOrder, err.Kind)
}

func TestBootHeapFailure(t *testing.T) {
	_, info := newMachine(t, "kheap=64M")

	physical, err := InitPhysical(info)
	require.Nil(t, err)
	paging, err := physical.InitPaging()
	require.Nil(t, err)

	usedBefore := pmm.FrameAllocator.UsedFrames()
	_, err = paging.InitHeaps()
	assert.True(t, errors.Is(err, kernel.ErrOutOfMemory))
	assert.Equal(t, usedBefore, pmm.FrameAllocator.UsedFrames())
}

func TestBootStackFailureReleasesHeaps(t *testing.T) {
	_, info := newMachine(t, "kstack=31M")

	physical, err := InitPhysical(info)
	require.Nil(t, err)
	paging, err := physical.InitPaging()
	require.Nil(t, err)

	usedBefore := pmm.FrameAllocator.UsedFrames()
	_, err = paging.InitHeaps()
	assert.True(t, errors.Is(err, kernel.ErrOutOfMemory))
	assert.Equal(t, usedBefore, pmm.FrameAllocator.UsedFrames())
}

func TestKmain(t *testing.T) {
	defer func(orig func(interface{})) {
		panicFn = orig
	}(panicFn)

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	t.Run("boot completes", func(t *testing.T) {
		_, info := newMachine(t, "")
		panicErr = nil

		Kmain(info.MultibootInfoPtr, uintptr(info.KernelStart), uintptr(info.KernelEnd), uintptr(info.BootDir), uintptr(info.BootTable))
		assert.Equal(t, errKmainReturned, panicErr)
	})

	t.Run("boot fails", func(t *testing.T) {
		_, info := newMachine(t, "")
		panicErr = nil

		// the kernel image does not fit in the boot page table
		Kmain(info.MultibootInfoPtr, uintptr(info.KernelStart), 0x500000, uintptr(info.BootDir), uintptr(info.BootTable))
		require.NotNil(t, panicErr)
		assert.NotEqual(t, errKmainReturned, panicErr)
	})
}
