package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

// tableView gives access to the tables of a page directory through the
// recursive mapping. The active directory is reached through the self-map
// slot; an inactive one is temporarily installed in the foreign slot of the
// active directory.
type tableView struct {
	tablesBase mm.VirtAddr
	dirAddr    mm.VirtAddr
}

var (
	activeView  = tableView{tablesBase: activeTablesBase, dirAddr: activeDirAddr}
	foreignView = tableView{tablesBase: foreignTablesBase, dirAddr: foreignDirAddr}
)

// directory returns the page directory entries.
func (v tableView) directory() *pageTable {
	return (*pageTable)(v.dirAddr.Pointer())
}

// tableAddr returns the virtual address where the page table referenced by
// directory entry dirIdx is visible.
func (v tableView) tableAddr(dirIdx uintptr) mm.VirtAddr {
	return v.tablesBase + mm.VirtAddr(dirIdx<<mm.PageShift)
}

// table returns the entries of the page table referenced by directory entry
// dirIdx. The entry must be present.
func (v tableView) table(dirIdx uintptr) *pageTable {
	return (*pageTable)(v.tableAddr(dirIdx).Pointer())
}

// entry returns the page table entry for virtAddr or nil if the page table
// that covers it is not present.
func (v tableView) entry(virtAddr mm.VirtAddr) *pageTableEntry {
	dirIdx := dirIndex(virtAddr)
	if !v.directory()[dirIdx].HasFlags(FlagPresent) {
		return nil
	}

	return &v.table(dirIdx)[tableIndex(virtAddr)]
}

// newTable allocates and clears a page table for directory entry dirIdx.
// Tables in the user window are flagged as user-accessible; access to
// individual pages is controlled by their own entries.
func (v tableView) newTable(dirIdx uintptr) *kernel.Error {
	physAddr, err := allocFrameFn()
	if err != nil {
		return err
	}

	flags := FlagPresent | FlagRW
	if inUserWindow(dirIdx) {
		flags |= FlagUserAccessible
	}

	v.directory()[dirIdx] = makeEntry(physAddr, flags)
	tableAddr := v.tableAddr(dirIdx)
	flushTLBEntryFn(uintptr(tableAddr))
	mm.Memset(tableAddr, 0, mm.PageSize)
	return nil
}

// releaseTable frees the page table referenced by directory entry dirIdx if
// none of its entries is present. Kernel window tables are shared by every
// page directory and are never released.
func (v tableView) releaseTable(dirIdx uintptr) {
	if !inUserWindow(dirIdx) {
		return
	}

	table := v.table(dirIdx)
	for tableIdx := range table {
		if table[tableIdx].HasFlags(FlagPresent) {
			return
		}
	}

	dir := v.directory()
	physAddr := dir[dirIdx].Address()
	dir[dirIdx] = 0
	flushTLBEntryFn(uintptr(v.tableAddr(dirIdx)))
	freeFrameFn(physAddr)
}

func inUserWindow(dirIdx uintptr) bool {
	return dirIdx >= userFirstIndex && dirIdx <= userLastIndex
}

// flushAll reloads CR3 which flushes every non-global TLB entry.
func flushAll() {
	switchPDTFn(activePDTFn())
}

// attach exposes pd through the recursive mapping and enters a critical
// section that lasts until the matching detach call.
func (pd PageDirectory) attach() tableView {
	sync.EnterCritical()

	if pd.IsActive() {
		return activeView
	}

	activeView.directory()[foreignIndex] = makeEntry(pd.frame.Address(), FlagPresent|FlagRW)
	flushAll()
	return foreignView
}

// detach releases a view obtained by attach.
func (pd PageDirectory) detach(v tableView) {
	if v == foreignView {
		activeView.directory()[foreignIndex] = 0
		flushAll()
	}

	sync.ExitCritical()
}
