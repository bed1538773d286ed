package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/pmm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// the following functions are used by tests to mock calls to the pmm
	// package and are automatically inlined by the compiler.
	allocFrameFn  = pmm.GetPage
	allocFramesFn = pmm.GetPages
	freeFrameFn   = pmm.FreePage
	claimRangeFn  = pmm.ClaimRange

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page", Kind: kernel.KindInvalidMapping}

	errDestroyInUse = &kernel.Error{Module: "vmm", Message: "cannot destroy an active or kernel page directory", Kind: kernel.KindInvalidArgument}
)

// PageDirectory describes the top-most table in the 2-level paging scheme.
type PageDirectory struct {
	frame mm.Frame
}

// NewPageDirectory allocates a frame for a new page directory and
// initializes it with the kernel mappings.
func NewPageDirectory() (PageDirectory, *kernel.Error) {
	physAddr, err := allocFrameFn()
	if err != nil {
		return PageDirectory{}, err
	}

	var pd PageDirectory
	pd.Init(physAddr)
	return pd, nil
}

// Init sets up the page directory stored at the supplied physical address.
// If the address matches the currently active directory, then nothing more
// needs to be done. Otherwise Init assumes that this is a new directory and
// exposes it through the foreign slot so that it can:
//   - clear the frame contents
//   - copy the kernel window entries from the active directory
//   - setup a recursive mapping for the last entry to the page itself.
func (pd *PageDirectory) Init(physAddr mm.PhysAddr) {
	pd.frame = mm.FrameFromAddress(physAddr)
	if pd.IsActive() {
		return
	}

	v := pd.attach()
	mm.Memset(v.dirAddr, 0, mm.PageSize)

	dir, activeDir := v.directory(), activeView.directory()
	for dirIdx := kernelFirstIndex; dirIdx <= kernelLastIndex; dirIdx++ {
		dir[dirIdx] = activeDir[dirIdx]
	}
	dir[selfMapIndex] = makeEntry(pd.frame.Address(), FlagPresent|FlagRW)

	pd.detach(v)
}

// Address returns the physical address of the page directory.
func (pd PageDirectory) Address() mm.PhysAddr {
	return pd.frame.Address()
}

// IsActive returns true if this is the directory currently loaded in CR3.
func (pd PageDirectory) IsActive() bool {
	return mm.PhysAddr(activePDTFn()) == pd.frame.Address()
}

// Activate enables this page directory and flushes the TLB.
func (pd PageDirectory) Activate() {
	switchPDTFn(uintptr(pd.frame.Address()))
}

// Map establishes a mapping between the page that contains virtAddr and the
// physical frame that contains physAddr, allocating the covering page table
// if required. Any existing mapping for the page is overwritten.
func (pd PageDirectory) Map(virtAddr mm.VirtAddr, physAddr mm.PhysAddr, flags PageTableEntryFlag) *kernel.Error {
	v := pd.attach()
	err := v.mapPage(virtAddr, physAddr, flags)
	pd.detach(v)
	return err
}

// Unmap removes the mapping for the page that contains virtAddr without
// releasing the physical frame it points to.
func (pd PageDirectory) Unmap(virtAddr mm.VirtAddr) *kernel.Error {
	v := pd.attach()
	defer pd.detach(v)

	pte := v.entry(virtAddr)
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	*pte = 0
	flushTLBEntryFn(uintptr(virtAddr))
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pd PageDirectory) Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	v := pd.attach()
	defer pd.detach(v)

	pte := v.entry(virtAddr)
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Address() + mm.PhysAddr(virtAddr.Offset()), nil
}

// Destroy releases every user window page (and its backing frame), every
// user window page table and finally the directory frame itself. Kernel
// window tables are shared and are left untouched. The active directory and
// the kernel directory cannot be destroyed.
func (pd PageDirectory) Destroy() *kernel.Error {
	if pd.IsActive() || pd.frame == kernelPDT.frame {
		return errDestroyInUse
	}

	v := pd.attach()
	dir := v.directory()
	for dirIdx := uintptr(userFirstIndex); dirIdx <= userLastIndex; dirIdx++ {
		if !dir[dirIdx].HasFlags(FlagPresent) {
			continue
		}

		table := v.table(dirIdx)
		for tableIdx := range table {
			if table[tableIdx].HasFlags(FlagPresent) {
				freeFrameFn(table[tableIdx].Address())
				table[tableIdx] = 0
			}
		}
		v.releaseTable(dirIdx)
	}
	pd.detach(v)

	freeFrameFn(pd.frame.Address())
	return nil
}

// mapPage installs a mapping for the page that contains virtAddr.
func (v tableView) mapPage(virtAddr mm.VirtAddr, physAddr mm.PhysAddr, flags PageTableEntryFlag) *kernel.Error {
	dirIdx := dirIndex(virtAddr)
	if !v.directory()[dirIdx].HasFlags(FlagPresent) {
		if err := v.newTable(dirIdx); err != nil {
			return err
		}
	}

	v.table(dirIdx)[tableIndex(virtAddr)] = makeEntry(physAddr, flags|FlagPresent)
	flushTLBEntryFn(uintptr(virtAddr))
	return nil
}

// unmapPage clears the mapping for the page that contains virtAddr, releases
// its frame when freeFrame is set and releases the covering page table if it
// became empty. Unmapped pages are ignored.
func (v tableView) unmapPage(virtAddr mm.VirtAddr, freeFrame bool) {
	pte := v.entry(virtAddr)
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return
	}

	physAddr := pte.Address()
	*pte = 0
	flushTLBEntryFn(uintptr(virtAddr))

	if freeFrame {
		freeFrameFn(physAddr)
	}
	v.releaseTable(dirIndex(virtAddr))
}
