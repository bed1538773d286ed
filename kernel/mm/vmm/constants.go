package vmm

import "kestrel/kernel/mm"

const (
	// entriesPerTable is the number of entries in a page directory or a
	// page table.
	entriesPerTable = 1024

	// dirShift is the number of virtual address bits covered by a single
	// page directory entry (4MiB).
	dirShift = 22

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-31 contain the physical memory address.
	ptePhysPageMask = uint32(0xfffff000)

	// selfMapIndex is the page directory entry that points back to the
	// directory itself. Through it, table i of the active directory is
	// visible at activeTablesBase + i*PageSize and the directory itself
	// is visible at activeDirAddr.
	selfMapIndex = 1023

	// foreignIndex is the page directory entry used to temporarily expose
	// an inactive page directory so its tables can be edited.
	foreignIndex = 1022

	// kernelFirstIndex and kernelLastIndex delimit the directory entries
	// that make up the kernel window. Their page tables are shared by every
	// page directory.
	kernelFirstIndex = 768
	kernelLastIndex  = 1021

	// userFirstIndex and userLastIndex delimit the directory entries that
	// make up the user window. The first 4MiB are never mapped so that nil
	// pointer dereferences fault.
	userFirstIndex = 1
	userLastIndex  = 767

	activeTablesBase  = mm.VirtAddr(0xffc00000)
	activeDirAddr     = mm.VirtAddr(0xfffff000)
	foreignTablesBase = mm.VirtAddr(0xff800000)

	// foreignDirAddr is the address where the directory installed in the
	// foreign slot is visible; it is the foreignIndex table of the active
	// directory.
	foreignDirAddr = activeTablesBase + foreignIndex<<mm.PageShift
)

const (
	// KernelWindowStart is the first virtual address of the kernel window.
	KernelWindowStart = mm.VirtAddr(kernelFirstIndex << dirShift)

	// KernelWindowEnd is the end (exclusive) of the kernel window.
	KernelWindowEnd = mm.VirtAddr((kernelLastIndex + 1) << dirShift)

	// UserWindowStart is the first virtual address of the user window.
	UserWindowStart = mm.VirtAddr(userFirstIndex << dirShift)

	// UserWindowEnd is the end (exclusive) of the user window.
	UserWindowEnd = mm.VirtAddr((userLastIndex + 1) << dirShift)
)
