package proc

import (
	"kestrel/kernel/cpu"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/sync"
)

// flagsInterruptEnable is the initial EFLAGS value of a task: interrupts
// enabled and the reserved bit 1 set.
const flagsInterruptEnable = 0x202

// Registers holds the register state saved when a task is preempted.
type Registers struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI, EBP, ESP uint32
	EIP, EFlags        uint32
}

// Task is a schedulable execution context. Runnable tasks are linked in a
// circular list.
type Task struct {
	Regs Registers

	// CR3 is the physical address of the page directory loaded when the
	// task runs.
	CR3 mm.PhysAddr

	Process *Process

	next, prev *Task
}

// Next returns the task that runs after t.
func (t *Task) Next() *Task {
	return t.next
}

// ContextSwitcher transfers control from one task to another. It is invoked
// by the scheduler after the registers of from have been saved and before
// the registers of to are restored.
type ContextSwitcher func(from, to *Task)

var (
	current *Task
	ticks   uint64

	// overridden by tests
	haltFn      = cpu.Halt
	activePDTFn = cpu.ActivePDT
	switchPDTFn = cpu.SwitchPDT

	switchContextFn ContextSwitcher = switchAddressSpace
)

// switchAddressSpace is the default ContextSwitcher. It loads the page
// directory of the next task if it differs from the active one.
func switchAddressSpace(_, to *Task) {
	if mm.PhysAddr(activePDTFn()) != to.CR3 {
		switchPDTFn(uintptr(to.CR3))
	}
}

// SetContextSwitcher installs fn as the context switch primitive. Passing
// nil restores the default switcher which only changes address spaces.
func SetContextSwitcher(fn ContextSwitcher) {
	if fn == nil {
		fn = switchAddressSpace
	}
	switchContextFn = fn
}

// Current returns the task that is currently running.
func Current() *Task {
	return current
}

// CurrentProcess returns the process of the running task.
func CurrentProcess() *Process {
	if current == nil {
		return nil
	}
	return current.Process
}

// Ticks returns the number of timer ticks handled by the scheduler.
func Ticks() uint64 {
	return ticks
}

// enqueue inserts t after the current task.
func enqueue(t *Task) {
	if current == nil {
		t.next, t.prev = t, t
		current = t
		return
	}

	t.prev, t.next = current, current.next
	current.next.prev = t
	current.next = t
}

// dequeue splices t out of the run list.
func dequeue(t *Task) {
	if t.next == nil {
		return
	}

	if t.next == t {
		if current == t {
			current = nil
		}
	} else {
		t.prev.next = t.next
		t.next.prev = t.prev
	}
	t.next, t.prev = nil, nil
}

// Tick is invoked by the timer interrupt handler with the registers of the
// interrupted task. On return frame holds the registers of the task that
// should be resumed.
func Tick(frame *Registers) {
	ticks++
	Schedule(frame)
}

// Schedule saves frame and the active page directory into the current task
// and switches to the next task in the run list. Processes with a pending
// SigKill are removed once their address space is no longer active. If
// there is nothing to run the CPU is halted until the next interrupt.
func Schedule(frame *Registers) {
	sync.EnterCritical()
	defer sync.ExitCritical()

	if current == nil {
		haltFn()
		return
	}

	prev := current
	prev.Regs = *frame
	prev.CR3 = mm.PhysAddr(activePDTFn())

	next := prev.next
	for next != prev && next.Process.pending.Has(SigKill) {
		victim := next.Process
		next = next.next
		reap(victim)
	}

	if next == prev {
		return
	}

	current = next
	switchContextFn(prev, next)
	*frame = next.Regs

	if prev.Process.pending.Has(SigKill) {
		reap(prev.Process)
	}
}

func reap(p *Process) {
	if err := p.Remove(); err != nil {
		kfmt.Printf("[proc] unable to reap process %d: %s\n", uint32(p.PID), err.Message)
	}
}
