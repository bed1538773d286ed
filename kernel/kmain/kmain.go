// Package kmain contains the kernel entry point and the staged boot sequence
// that brings up the memory manager and the process table.
package kmain

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// overridden by tests
	panicFn = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the address of the multiboot
// info payload provided by the bootloader, the physical addresses for the
// kernel start/end and the physical addresses of the page directory and
// page table it used to identity map the first 4MiB.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, bootDir, bootTable uintptr) {
	_, err := Boot(BootInfo{
		MultibootInfoPtr: multibootInfoPtr,
		KernelStart:      mm.PhysAddr(kernelStart),
		KernelEnd:        mm.PhysAddr(kernelEnd),
		BootDir:          mm.PhysAddr(bootDir),
		BootTable:        mm.PhysAddr(bootTable),
	})
	if err != nil {
		panicFn(err)
		return
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
