// Package sync provides the interrupt-masking critical sections used to
// serialize access to the physical frame bitmap, page directories and heap
// free lists. The kernel runs on a single CPU so masking interrupts is
// sufficient to obtain exclusive access to shared structures.
package sync

import "kestrel/kernel/cpu"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	interruptsEnabledFn = cpu.InterruptsEnabled

	// depth tracks the nesting level of active critical sections.
	depth uint32

	// restoreInterrupts is set when the outermost critical section found
	// interrupts enabled and must re-enable them on exit. It stays false
	// when a section is entered from an interrupt handler.
	restoreInterrupts bool
)

// EnterCritical masks interrupts and increments the critical section nesting
// counter. Calls must be paired with ExitCritical.
func EnterCritical() {
	if depth == 0 {
		restoreInterrupts = interruptsEnabledFn()
		disableInterruptsFn()
	}
	depth++
}

// ExitCritical decrements the nesting counter. Interrupts are re-enabled
// only when the outermost section exits and they were enabled when it was
// entered. Calling ExitCritical without a matching EnterCritical is a no-op.
func ExitCritical() {
	if depth == 0 {
		return
	}

	depth--
	if depth == 0 && restoreInterrupts {
		restoreInterrupts = false
		enableInterruptsFn()
	}
}

// Depth returns the current critical section nesting level.
func Depth() uint32 {
	return depth
}
