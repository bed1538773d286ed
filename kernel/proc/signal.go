package proc

import "kestrel/kernel"

// Signal is a notification delivered to a process.
type Signal uint8

// Supported signals. SigKill cannot be handled by a process; the scheduler
// removes the process instead.
const (
	SigHup  Signal = 1
	SigInt  Signal = 2
	SigQuit Signal = 3
	SigKill Signal = 9
	SigUsr1 Signal = 10
	SigUsr2 Signal = 12
	SigTerm Signal = 15
	SigChld Signal = 17

	maxSignal Signal = 31
)

var (
	errInvalidSignal = &kernel.Error{Module: "proc", Message: "invalid signal", Kind: kernel.KindInvalidArgument}
	errKillKernel    = &kernel.Error{Module: "proc", Message: "the kernel process cannot be killed", Kind: kernel.KindInvalidArgument}
)

// SignalSet is a bitmap of pending signals.
type SignalSet uint32

// Has returns true if sig is in the set.
func (s SignalSet) Has(sig Signal) bool {
	return sig != 0 && sig <= maxSignal && s&(1<<sig) != 0
}

// Signal marks sig as pending for the process.
func (p *Process) Signal(sig Signal) *kernel.Error {
	if sig == 0 || sig > maxSignal {
		return errInvalidSignal
	}

	if !p.used {
		return errNoSuchProcess
	}

	if sig == SigKill && p == kernelProc {
		return errKillKernel
	}

	p.pending |= 1 << sig
	return nil
}

// PendingSignals returns the signals delivered to the process that have not
// been consumed yet.
func (p *Process) PendingSignals() SignalSet {
	return p.pending
}

// TakeSignal removes and returns the lowest numbered pending signal other
// than SigKill.
func (p *Process) TakeSignal() (Signal, bool) {
	for sig := Signal(1); sig <= maxSignal; sig++ {
		if sig != SigKill && p.pending.Has(sig) {
			p.pending &^= 1 << sig
			return sig, true
		}
	}
	return 0, false
}

// Kill sends SigKill to the process with the supplied PID.
func Kill(pid PID) *kernel.Error {
	p := Lookup(pid)
	if p == nil {
		return errNoSuchProcess
	}
	return p.Signal(SigKill)
}
