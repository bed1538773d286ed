package kernel

// ErrorKind classifies a kernel Error so that callers can react to a family
// of failures (e.g. any out-of-memory condition) without comparing against
// every module-specific error value.
type ErrorKind uint8

const (
	// KindUnknown is the zero value and never matches another kind.
	KindUnknown ErrorKind = iota

	// KindOutOfMemory reports that no frame, page or region is available.
	KindOutOfMemory

	// KindAlreadyClaimed reports an attempt to claim a frame that is in use.
	KindAlreadyClaimed

	// KindInvalidAlignment reports an address that is not suitably aligned.
	KindInvalidAlignment

	// KindAllocatorExhausted reports that a heap allocator has no free
	// region large enough for a request.
	KindAllocatorExhausted

	// KindInvalidMapping reports a virtual address with no backing mapping
	// or a mapping request that collides with an existing one.
	KindInvalidMapping

	// KindInvalidArgument reports a malformed request.
	KindInvalidArgument

	// KindLeak reports allocations that were never released.
	KindLeak

	// KindOverFree reports more releases than allocations.
	KindOverFree

	// KindBootOrder reports a boot stage invoked out of sequence.
	KindBootOrder
)

// Error is the error type returned by every kernel package. Errors are
// declared as package-level pointers since the kernel cannot allocate when
// a failure is reported.
type Error struct {
	// Module names the subsystem that reported the error.
	Module string

	Message string
	Kind    ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is a kernel Error of the same kind. Errors with
// KindUnknown only match themselves. An exhausted heap allocator is also
// reported as out of memory.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}

	if e == t {
		return true
	}

	if e.Kind == KindAllocatorExhausted && t.Kind == KindOutOfMemory {
		return true
	}

	return e.Kind != KindUnknown && e.Kind == t.Kind
}

// Sentinel errors usable as errors.Is targets.
var (
	ErrOutOfMemory        = &Error{Module: "kernel", Message: "out of memory", Kind: KindOutOfMemory}
	ErrAlreadyClaimed     = &Error{Module: "kernel", Message: "already claimed", Kind: KindAlreadyClaimed}
	ErrInvalidAlignment   = &Error{Module: "kernel", Message: "invalid alignment", Kind: KindInvalidAlignment}
	ErrAllocatorExhausted = &Error{Module: "kernel", Message: "allocator exhausted", Kind: KindAllocatorExhausted}
	ErrInvalidMapping     = &Error{Module: "kernel", Message: "invalid mapping", Kind: KindInvalidMapping}
)
