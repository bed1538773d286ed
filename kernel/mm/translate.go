package mm

import "unsafe"

// AddressTranslatorFn converts a virtual address into a pointer that can be
// dereferenced by the running code.
type AddressTranslatorFn func(VirtAddr) unsafe.Pointer

// translator is the identity mapping on real hardware where the MMU performs
// the translation. Hosted environments install their own translator so that
// kernel code manipulating page tables and heap memory operates on emulated
// physical memory.
var translator AddressTranslatorFn = identityTranslator

func identityTranslator(addr VirtAddr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

// SetAddressTranslator installs fn as the virtual address translator. Passing
// nil restores the identity translator.
func SetAddressTranslator(fn AddressTranslatorFn) {
	if fn == nil {
		fn = identityTranslator
	}
	translator = fn
}

// Pointer returns a pointer to the memory at this virtual address. It is the
// only place where the memory manager reinterprets addresses as pointers.
func (a VirtAddr) Pointer() unsafe.Pointer {
	return translator(a)
}
