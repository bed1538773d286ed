// Package vmm manages the 2-level page directory/page table structures of
// the 32-bit address space. Page tables are edited through the recursive
// mapping installed in the last directory entry; inactive directories are
// edited by temporarily installing them in the preceding entry.
package vmm

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
)

// kernelPDT is the page directory set up by the paging bootstrap. Its
// kernel window tables are shared by every other page directory.
var kernelPDT PageDirectory

// KernelDirectory returns the page directory set up by the paging bootstrap.
func KernelDirectory() PageDirectory {
	return kernelPDT
}

// ActiveDirectory returns the page directory that is currently loaded.
func ActiveDirectory() PageDirectory {
	return PageDirectory{frame: mm.FrameFromAddress(mm.PhysAddr(activePDTFn()))}
}

// AllocPage maps a single page in the active page directory.
func AllocPage(flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return ActiveDirectory().GetPageFrame(flags)
}

// AllocPages maps count consecutive pages in the active page directory.
func AllocPages(count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return ActiveDirectory().GetPageFrames(count, flags)
}

// KAllocPages maps count consecutive pages backed by physically contiguous
// frames in the active page directory.
func KAllocPages(count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return ActiveDirectory().KGetPageFrames(count, flags)
}

// AllocPagesAt maps count pages at virtAddr in the active page directory.
func AllocPagesAt(virtAddr mm.VirtAddr, count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return ActiveDirectory().GetPageFramesAt(virtAddr, count, flags)
}

// KAllocPagesAt maps count pages at virtAddr backed by physically contiguous
// frames in the active page directory.
func KAllocPagesAt(virtAddr mm.VirtAddr, count uintptr, flags PageTableEntryFlag) (mm.VirtAddr, *kernel.Error) {
	return ActiveDirectory().KGetPageFramesAt(virtAddr, count, flags)
}

// FreePage removes a page mapped in the active page directory.
func FreePage(virtAddr mm.VirtAddr) {
	ActiveDirectory().RemovePageFrame(virtAddr)
}

// FreePages removes count pages mapped in the active page directory.
func FreePages(virtAddr mm.VirtAddr, count uintptr) {
	ActiveDirectory().RemovePageFrames(virtAddr, count)
}

// Translate returns the physical address that virtAddr maps to in the
// active page directory.
func Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	return ActiveDirectory().Translate(virtAddr)
}
