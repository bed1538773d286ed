package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
)

// BootState describes the progress of the paging bootstrap.
type BootState uint8

const (
	// StateIdentity is the initial state: the boot code has identity
	// mapped the first 4MiB of physical memory with a single page table.
	StateIdentity BootState = iota

	// StateKernelHighHalfMapped means that the boot page table is visible
	// both at the identity addresses and at KernelBase.
	StateKernelHighHalfMapped

	// StateHigherHalfOnly means that the identity mapping has been removed
	// and only the kernel window and the recursive mapping remain.
	StateHigherHalfOnly
)

var (
	errBootOrder      = &kernel.Error{Module: "vmm", Message: "paging bootstrap step invoked out of order", Kind: kernel.KindBootOrder}
	errKernelTooLarge = &kernel.Error{Module: "vmm", Message: "kernel image does not fit in the boot page table", Kind: kernel.KindInvalidArgument}
)

// String implements fmt.Stringer for BootState.
func (s BootState) String() string {
	switch s {
	case StateIdentity:
		return "identity"
	case StateKernelHighHalfMapped:
		return "kernel-high-half-mapped"
	case StateHigherHalfOnly:
		return "higher-half-only"
	default:
		return "unknown"
	}
}

// Bootstrap moves the kernel from the identity mapping established by the
// boot code to the higher-half layout. The sequence never removes a mapping
// before the mapping that replaces it is active: the kernel is first aliased
// at KernelBase, then the recursive mapping is installed and only then is the
// identity mapping torn down. CR3 is reloaded after every step.
type Bootstrap struct {
	state BootState

	// physical addresses of the page directory and the page table
	// installed by the boot code.
	dirPhys, tablePhys mm.PhysAddr

	kernelStart, kernelEnd mm.PhysAddr

	// footprintFrames is the number of frames, starting at frame 0, that
	// hold the low memory area, the kernel image and the boot paging
	// structures.
	footprintFrames uint32
	claimed         bool
}

// NewBootstrap returns a Bootstrap for the boot page directory and page
// table located at dirPhys and tablePhys. The kernel image occupies
// [kernelStart, kernelEnd). The footprint always covers the low memory area
// below mm.LowMemoryLimit.
func NewBootstrap(dirPhys, tablePhys, kernelStart, kernelEnd mm.PhysAddr) Bootstrap {
	end := uint64(mm.LowMemoryLimit)
	if uint64(kernelEnd) > end {
		end = uint64(kernelEnd)
	}
	for _, addr := range [2]mm.PhysAddr{dirPhys, tablePhys} {
		if tableEnd := uint64(addr) + uint64(mm.PageSize); tableEnd > end {
			end = tableEnd
		}
	}

	return Bootstrap{
		state:           StateIdentity,
		dirPhys:         dirPhys,
		tablePhys:       tablePhys,
		kernelStart:     kernelStart,
		kernelEnd:       kernelEnd,
		footprintFrames: uint32((end + uint64(mm.PageSize) - 1) >> mm.PageShift),
	}
}

// State returns the current bootstrap state.
func (b *Bootstrap) State() BootState {
	return b.state
}

// FootprintFrames returns the number of frames claimed by ClaimFootprint.
func (b *Bootstrap) FootprintFrames() uint32 {
	return b.footprintFrames
}

// ClaimFootprint claims every frame from frame 0 up to the end of the kernel
// image and the boot paging structures. It must be called before the boot
// memory map is reserved so that the range is known to be claimable.
func (b *Bootstrap) ClaimFootprint() *kernel.Error {
	if b.claimed {
		return errBootOrder
	}

	if b.footprintFrames > entriesPerTable {
		return errKernelTooLarge
	}

	if _, _, err := claimRangeFn(0, b.footprintFrames); err != nil {
		return err
	}

	b.claimed = true
	kfmt.Printf("[vmm] kernel loaded at 0x%x - 0x%x; claimed %d boot frames\n", uint32(b.kernelStart), uint32(b.kernelEnd), b.footprintFrames)
	return nil
}

// Run performs the transition from StateIdentity to StateHigherHalfOnly and
// returns the kernel page directory. Once the identity mapping is gone,
// Run allocates a page table for every kernel window directory entry so
// that directories created later can share them.
func (b *Bootstrap) Run() (PageDirectory, *kernel.Error) {
	if !b.claimed || b.state != StateIdentity {
		return PageDirectory{}, errBootOrder
	}

	// Alias the boot page table at KernelBase. The directory is still
	// accessed through its identity address.
	identityDir := (*pageTable)(mm.VirtAddr(b.dirPhys).Pointer())
	identityDir[dirIndex(mm.KernelBase)] = makeEntry(b.tablePhys, FlagPresent|FlagRW)
	switchPDTFn(uintptr(b.dirPhys))
	b.state = StateKernelHighHalfMapped

	// From this point on the paging structures are accessed through their
	// higher-half aliases. Install the recursive mapping and drop the boot
	// table entries past the kernel footprint so the frames they cover can
	// be handed out by the frame allocator without being double-mapped.
	highDir := (*pageTable)(mm.KernelVirtAddr(b.dirPhys).Pointer())
	highDir[selfMapIndex] = makeEntry(b.dirPhys, FlagPresent|FlagRW)

	bootTable := (*pageTable)(mm.KernelVirtAddr(b.tablePhys).Pointer())
	for tableIdx := b.footprintFrames; tableIdx < entriesPerTable; tableIdx++ {
		bootTable[tableIdx] = 0
	}
	switchPDTFn(uintptr(b.dirPhys))

	// Tear down the identity mapping through the recursive mapping.
	activeView.directory()[0] = 0
	switchPDTFn(uintptr(b.dirPhys))
	b.state = StateHigherHalfOnly

	kernelPDT = PageDirectory{frame: mm.FrameFromAddress(b.dirPhys)}

	if err := pinKernelTables(); err != nil {
		return PageDirectory{}, err
	}

	return kernelPDT, nil
}

// pinKernelTables allocates a page table for every kernel window directory
// entry of the active directory.
func pinKernelTables() *kernel.Error {
	dir := activeView.directory()
	for dirIdx := uintptr(kernelFirstIndex); dirIdx <= kernelLastIndex; dirIdx++ {
		if dir[dirIdx].HasFlags(FlagPresent) {
			continue
		}

		if err := activeView.newTable(dirIdx); err != nil {
			return err
		}
	}

	return nil
}
