package kmain

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/mm/zone"
	"kestrel/kernel/multiboot"
	"kestrel/kernel/proc"
)

// Kernel window layout.
const (
	KernelHeapBase     = mm.VirtAddr(0xd0000000)
	KernelPhysHeapBase = mm.VirtAddr(0xe0000000)
	KernelStackTop     = mm.VirtAddr(0xfeffffff)
)

// BootInfo is the information passed to the kernel by the boot code.
type BootInfo struct {
	MultibootInfoPtr uintptr

	// The physical range occupied by the kernel image.
	KernelStart, KernelEnd mm.PhysAddr

	// The physical addresses of the page directory and page table that
	// identity map the first 4MiB.
	BootDir, BootTable mm.PhysAddr
}

// PhysicalStage is reached once the physical frame allocator knows about
// every frame that is in use. It is the only way to reach PagingStage.
type PhysicalStage struct {
	Config Config

	boot vmm.Bootstrap
}

// PagingStage is reached once the kernel runs in the higher half.
type PagingStage struct {
	Config Config

	// Kernel is the kernel page directory.
	Kernel vmm.PageDirectory
}

// HeapStage is reached once the kernel heaps and stack are mapped.
type HeapStage struct {
	PagingStage

	KernelHeap     zone.Zone
	KernelPhysHeap zone.Zone
	KernelStack    zone.Zone
}

// ProcessStage is reached once the process table is initialized. The boot
// sequence is complete.
type ProcessStage struct {
	HeapStage

	// Kernel is the kernel process.
	Kernel *proc.Process
}

// InitPhysical reads the boot configuration, claims the frames used by the
// low memory area, the kernel image and the boot paging structures and then
// reserves every frame that the memory map reports as unavailable.
func InitPhysical(info BootInfo) (PhysicalStage, *kernel.Error) {
	multiboot.SetInfoPtr(info.MultibootInfoPtr)
	cfg := ParseConfig()

	boot := vmm.NewBootstrap(info.BootDir, info.BootTable, info.KernelStart, info.KernelEnd)
	if err := boot.ClaimFootprint(); err != nil {
		return PhysicalStage{}, err
	}

	pmm.ReserveMemoryMap()
	pmm.PrintMemoryMap()

	return PhysicalStage{Config: cfg, boot: boot}, nil
}

// InitPaging moves the kernel to the higher half.
func (s *PhysicalStage) InitPaging() (PagingStage, *kernel.Error) {
	pd, err := s.boot.Run()
	if err != nil {
		return PagingStage{}, err
	}

	return PagingStage{Config: s.Config, Kernel: pd}, nil
}

// InitHeaps maps the kernel heap, the physically contiguous kernel heap and
// the kernel stack.
func (s *PagingStage) InitHeaps() (HeapStage, *kernel.Error) {
	var (
		hs  = HeapStage{PagingStage: *s}
		err *kernel.Error
	)

	kheap.KernelHeap = kheap.FreeListAllocator{Coalesce: s.Config.Coalesce}
	if hs.KernelHeap, err = zone.InitHeap(s.Kernel, KernelHeapBase, s.Config.KernelHeapSize, zone.FlagWritable, &kheap.KernelHeap); err != nil {
		return HeapStage{}, err
	}

	kheap.KernelPhysHeap = kheap.FreeListAllocator{Coalesce: s.Config.Coalesce}
	if hs.KernelPhysHeap, err = zone.InitHeap(s.Kernel, KernelPhysHeapBase, s.Config.KernelPhysHeapSize, zone.FlagWritable|zone.FlagContiguous, &kheap.KernelPhysHeap); err != nil {
		hs.KernelHeap.Destroy()
		return HeapStage{}, err
	}

	if hs.KernelStack, err = zone.InitStack(s.Kernel, KernelStackTop, s.Config.KernelStackSize, zone.FlagWritable); err != nil {
		hs.KernelPhysHeap.Destroy()
		hs.KernelHeap.Destroy()
		return HeapStage{}, err
	}

	kfmt.Printf("[kmain] kernel heap: 0x%x (%d bytes), phys heap: 0x%x (%d bytes), stack top: 0x%x\n",
		uintptr(hs.KernelHeap.Offset), hs.KernelHeap.Size,
		uintptr(hs.KernelPhysHeap.Offset), hs.KernelPhysHeap.Size,
		uintptr(hs.KernelStack.Top()),
	)

	return hs, nil
}

// InitProcesses registers the kernel process.
func (s *HeapStage) InitProcesses() ProcessStage {
	return ProcessStage{
		HeapStage: *s,
		Kernel:    proc.Init(s.Kernel, s.KernelStack, s.KernelHeap),
	}
}

// Spawn creates a process using the user stack and heap sizes of the boot
// configuration.
func (s *ProcessStage) Spawn(parent *proc.Process, entry uint32) (*proc.Process, *kernel.Error) {
	return proc.Spawn(parent, proc.Config{
		Entry:     entry,
		StackSize: s.Config.UserStackSize,
		HeapSize:  s.Config.UserHeapSize,
		Coalesce:  s.Config.Coalesce,
	})
}

// Boot runs every boot stage in order.
func Boot(info BootInfo) (ProcessStage, *kernel.Error) {
	physical, err := InitPhysical(info)
	if err != nil {
		return ProcessStage{}, err
	}

	paging, err := physical.InitPaging()
	if err != nil {
		return ProcessStage{}, err
	}

	heaps, err := paging.InitHeaps()
	if err != nil {
		return ProcessStage{}, err
	}

	return heaps.InitProcesses(), nil
}
