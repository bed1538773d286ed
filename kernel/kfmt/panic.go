package kfmt

import (
	"kestrel/kernel"
	"kestrel/kernel/cpu"
)

var (
	// overridden by tests
	haltFn           = cpu.Halt
	maskInterruptsFn = cpu.DisableInterrupts

	// errGoPanic wraps panics that do not carry a *kernel.Error. Its message
	// is replaced before printing.
	errGoPanic = &kernel.Error{Module: "runtime", Message: "unknown cause"}
)

// Panic prints the cause of a fatal error, masks interrupts and halts the
// CPU. e may be a *kernel.Error, a Go error, a string or nil. On real
// hardware Panic never returns.
func Panic(e interface{}) {
	Printf("\n*** kernel panic ***\n")
	if err := panicCause(e); err != nil {
		Printf("[%s] %s\n", err.Module, err.Message)
	}
	Printf("system halted\n")

	maskInterruptsFn()
	haltFn()
}

func panicCause(e interface{}) *kernel.Error {
	switch cause := e.(type) {
	case *kernel.Error:
		return cause
	case error:
		errGoPanic.Message = cause.Error()
	case string:
		errGoPanic.Message = cause
	default:
		return nil
	}
	return errGoPanic
}
