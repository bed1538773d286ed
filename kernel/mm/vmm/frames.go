package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

var (
	errNoVirtualSpace = &kernel.Error{Module: "vmm", Message: "no free virtual address range", Kind: kernel.KindOutOfMemory}
	errMisaligned     = &kernel.Error{Module: "vmm", Message: "address is not page-aligned", Kind: kernel.KindInvalidAlignment}
	errOutsideWindow  = &kernel.Error{Module: "vmm", Message: "address range is outside of the requested window", Kind: kernel.KindInvalidArgument}
	errAlreadyMapped  = &kernel.Error{Module: "vmm", Message: "page is already mapped", Kind: kernel.KindInvalidMapping}
	errInvalidCount   = &kernel.Error{Module: "vmm", Message: "page count must be greater than zero", Kind: kernel.KindInvalidArgument}
)

// window returns the directory index range that a request with the supplied
// flags is served from.
func window(flags PageTableEntryFlag) (uintptr, uintptr) {
	if flags&FlagUserAccessible != 0 {
		return userFirstIndex, userLastIndex
	}
	return kernelFirstIndex, kernelLastIndex
}

// GetPageFrame claims a physical frame and maps it at the first free page of
// the window selected by flags. It returns the virtual address of the page.
func (pd PageDirectory) GetPageFrame(flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return pd.getPageFrames(1, flags, false)
}

// GetPageFrames maps count consecutive virtual pages backed by frames that
// are not necessarily physically contiguous.
func (pd PageDirectory) GetPageFrames(count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return pd.getPageFrames(count, flags, false)
}

// KGetPageFrames maps count consecutive virtual pages backed by physically
// contiguous frames.
func (pd PageDirectory) KGetPageFrames(count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return pd.getPageFrames(count, flags, true)
}

// GetPageFramesAt maps count pages starting at the page-aligned address
// virtAddr. None of the pages may already be mapped.
func (pd PageDirectory) GetPageFramesAt(virtAddr mm.VirtAddr, count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return pd.getPageFramesAt(virtAddr, count, flags, false)
}

// KGetPageFramesAt is like GetPageFramesAt but the backing frames are
// physically contiguous.
func (pd PageDirectory) KGetPageFramesAt(virtAddr mm.VirtAddr, count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return pd.getPageFramesAt(virtAddr, count, flags, true)
}

// RemovePageFrame unmaps the page at virtAddr and releases its frame. If the
// page table that covered the page became empty it is released as well.
// Unaligned or unmapped addresses are ignored.
func (pd PageDirectory) RemovePageFrame(virtAddr mm.VirtAddr) {
	pd.RemovePageFrames(virtAddr, 1)
}

// RemovePageFrames removes count consecutive pages starting at virtAddr. The
// call is ignored if virtAddr is not page-aligned.
func (pd PageDirectory) RemovePageFrames(virtAddr mm.VirtAddr, count uintptr) {
	if !virtAddr.PageAligned() {
		return
	}

	v := pd.attach()
	for index := uintptr(0); index < count; index++ {
		v.unmapPage(virtAddr+mm.VirtAddr(index<<mm.PageShift), true)
	}
	pd.detach(v)
}

func (pd PageDirectory) getPageFrames(count uintptr, flags PageTableEntryFlag, contiguous bool) (mm.VirtAddr, *kernel.Error) {
	if count == 0 {
		return 0, errInvalidCount
	}

	v := pd.attach()
	defer pd.detach(v)

	firstDir, lastDir := window(flags)
	start, found := v.findRun(firstDir, lastDir, count)
	if !found {
		return 0, errNoVirtualSpace
	}

	if err := v.populate(start, count, flags, contiguous); err != nil {
		return 0, err
	}

	return start, nil
}

func (pd PageDirectory) getPageFramesAt(virtAddr mm.VirtAddr, count uintptr, flags PageTableEntryFlag, contiguous bool) (mm.VirtAddr, *kernel.Error) {
	if count == 0 {
		return 0, errInvalidCount
	}

	if !virtAddr.PageAligned() {
		return 0, errMisaligned
	}

	firstDir, lastDir := window(flags)
	start, end := uint64(virtAddr), uint64(virtAddr)+uint64(count)<<mm.PageShift
	if start < uint64(pageAddr(firstDir, 0)) || end > uint64(lastDir+1)<<dirShift {
		return 0, errOutsideWindow
	}

	v := pd.attach()
	defer pd.detach(v)

	for index := uintptr(0); index < count; index++ {
		if pte := v.entry(virtAddr + mm.VirtAddr(index<<mm.PageShift)); pte != nil && pte.HasFlags(FlagPresent) {
			return 0, errAlreadyMapped
		}
	}

	if err := v.populate(virtAddr, count, flags, contiguous); err != nil {
		return 0, err
	}

	return virtAddr, nil
}

// findRun looks for count consecutive unmapped pages in the directory
// entries [firstDir, lastDir]. Present page tables are scanned top-down first
// and the lowest free run inside the first table that has room is returned.
// Only if no present table can hold the run does the scan consider missing
// tables, bottom-up, which will need to be allocated.
func (v tableView) findRun(firstDir, lastDir, count uintptr) (mm.VirtAddr, bool) {
	dir := v.directory()

	if count <= entriesPerTable {
		for dirIdx := lastDir + 1; dirIdx > firstDir; dirIdx-- {
			if !dir[dirIdx-1].HasFlags(FlagPresent) {
				continue
			}
			if tableIdx, ok := freeSlots(v.table(dirIdx-1), count); ok {
				return pageAddr(dirIdx-1, tableIdx), true
			}
		}
	}

	var (
		runStart mm.VirtAddr
		runLen   uintptr
	)

	for dirIdx := firstDir; dirIdx <= lastDir; dirIdx++ {
		if !dir[dirIdx].HasFlags(FlagPresent) {
			if runLen == 0 {
				runStart = pageAddr(dirIdx, 0)
			}
			if runLen += entriesPerTable; runLen >= count {
				return runStart, true
			}
			continue
		}

		table := v.table(dirIdx)
		for tableIdx := range table {
			if table[tableIdx].HasFlags(FlagPresent) {
				runLen = 0
				continue
			}

			if runLen == 0 {
				runStart = pageAddr(dirIdx, uintptr(tableIdx))
			}
			if runLen++; runLen >= count {
				return runStart, true
			}
		}
	}

	return 0, false
}

// freeSlots returns the index of the first run of count unmapped entries in
// table.
func freeSlots(table *pageTable, count uintptr) (uintptr, bool) {
	var runLen uintptr
	for tableIdx := range table {
		if table[tableIdx].HasFlags(FlagPresent) {
			runLen = 0
			continue
		}
		if runLen++; runLen == count {
			return uintptr(tableIdx) + 1 - count, true
		}
	}

	return 0, false
}

// populate maps count pages starting at start. Frames are either claimed
// one at a time or, if contiguous is set, as a single physically contiguous
// run. If any step fails, every page mapped so far is removed and every
// frame claimed so far is released.
func (v tableView) populate(start mm.VirtAddr, count uintptr, flags PageTableEntryFlag, contiguous bool) *kernel.Error {
	var (
		physStart mm.PhysAddr
		err       *kernel.Error
	)

	if contiguous {
		if physStart, err = allocFramesFn(uint32(count)); err != nil {
			return err
		}
	}

	for index := uintptr(0); index < count; index++ {
		physAddr := physStart + mm.PhysAddr(index<<mm.PageShift)
		if !contiguous {
			if physAddr, err = allocFrameFn(); err != nil {
				v.rollback(start, index, true)
				return err
			}
		}

		if err = v.mapPage(start+mm.VirtAddr(index<<mm.PageShift), physAddr, flags); err != nil {
			if contiguous {
				v.rollback(start, index, false)
				for frameIndex := uintptr(0); frameIndex < count; frameIndex++ {
					freeFrameFn(physStart + mm.PhysAddr(frameIndex<<mm.PageShift))
				}
			} else {
				freeFrameFn(physAddr)
				v.rollback(start, index, true)
			}
			return err
		}
	}

	return nil
}

// rollback removes the first count pages starting at start.
func (v tableView) rollback(start mm.VirtAddr, count uintptr, freeFrames bool) {
	for index := uintptr(0); index < count; index++ {
		v.unmapPage(start+mm.VirtAddr(index<<mm.PageShift), freeFrames)
	}
}
