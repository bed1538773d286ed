//go:build !386

package cpu

// Machine is implemented by hosted environments that emulate the processor
// features used by the memory manager. When the kernel packages are built
// for anything other than the 386 target, every CPU primitive is forwarded
// to the attached Machine.
type Machine interface {
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool
	Halt()
	FlushTLBEntry(virtAddr uintptr)
	SwitchPDT(pdtPhysAddr uintptr)
	ActivePDT() uintptr
}

var attached Machine = &detachedMachine{}

// Attach routes all CPU primitives to m. Passing nil restores the built-in
// machine which only tracks the interrupt flag and the CR3 value.
func Attach(m Machine) {
	if m == nil {
		m = &detachedMachine{}
	}
	attached = m
}

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() { attached.EnableInterrupts() }

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() { attached.DisableInterrupts() }

// InterruptsEnabled returns true if the interrupt flag is set.
func InterruptsEnabled() bool { return attached.InterruptsEnabled() }

// Halt stops instruction execution until the next interrupt arrives.
func Halt() { attached.Halt() }

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr) { attached.FlushTLBEntry(virtAddr) }

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr) { attached.SwitchPDT(pdtPhysAddr) }

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr { return attached.ActivePDT() }

// detachedMachine keeps just enough state for code that toggles interrupts
// or reads CR3 to run when no emulated machine is attached.
type detachedMachine struct {
	interrupts bool
	cr3        uintptr
}

func (m *detachedMachine) EnableInterrupts() { m.interrupts = true }
func (m *detachedMachine) DisableInterrupts() { m.interrupts = false }
func (m *detachedMachine) InterruptsEnabled() bool { return m.interrupts }
func (m *detachedMachine) Halt() {}
func (m *detachedMachine) FlushTLBEntry(_ uintptr) {}
func (m *detachedMachine) SwitchPDT(pdtAddr uintptr) { m.cr3 = pdtAddr }
func (m *detachedMachine) ActivePDT() uintptr { return m.cr3 }
