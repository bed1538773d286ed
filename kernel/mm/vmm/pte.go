package vmm

import "kestrel/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table or
// page directory entry.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 4Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal
)

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uint32

// pageTable is the in-memory layout of a page directory or a page table.
type pageTable [entriesPerTable]pageTableEntry

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Address returns the physical address of the frame that this entry points to.
func (pte pageTableEntry) Address() mm.PhysAddr {
	return mm.PhysAddr(uint32(pte) & ptePhysPageMask)
}

// SetAddress updates the page table entry to point the the frame that
// contains physAddr.
func (pte *pageTableEntry) SetAddress(physAddr mm.PhysAddr) {
	*pte = (pageTableEntry)((uint32(*pte) &^ ptePhysPageMask) | (uint32(physAddr) & ptePhysPageMask))
}

// makeEntry returns an entry pointing at physAddr with the given flags.
func makeEntry(physAddr mm.PhysAddr, flags PageTableEntryFlag) pageTableEntry {
	var pte pageTableEntry
	pte.SetAddress(physAddr)
	pte.SetFlags(flags)
	return pte
}

// dirIndex returns the page directory index for a virtual address.
func dirIndex(virtAddr mm.VirtAddr) uintptr {
	return (uintptr(virtAddr) >> dirShift) & (entriesPerTable - 1)
}

// tableIndex returns the page table index for a virtual address.
func tableIndex(virtAddr mm.VirtAddr) uintptr {
	return (uintptr(virtAddr) >> mm.PageShift) & (entriesPerTable - 1)
}

// pageAddr assembles the virtual address that corresponds to a directory
// and table index pair.
func pageAddr(dirIdx, tableIdx uintptr) mm.VirtAddr {
	return mm.VirtAddr(dirIdx<<dirShift | tableIdx<<mm.PageShift)
}
