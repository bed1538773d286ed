package sync

import "kestrel/kernel"

var errReentrantAccess = &kernel.Error{Module: "sync", Message: "re-entrant access to guarded state"}

// Guard provides exclusive access to a kernel singleton whose state must be
// mutated through an API that looks read-only to its callers (e.g. a global
// allocator). Acquire enters a critical section and panics if the guard is
// already held, which can only happen if an interrupt handler re-enters a
// mutation that was interrupted half-way.
type Guard struct {
	held bool
}

// Acquire obtains exclusive access to the guarded state.
func (g *Guard) Acquire() {
	EnterCritical()
	if g.held {
		ExitCritical()
		panic(errReentrantAccess)
	}
	g.held = true
}

// Release relinquishes a held guard.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	g.held = false
	ExitCritical()
}

// Held returns true if the guard is currently acquired.
func (g *Guard) Held() bool {
	return g.held
}
