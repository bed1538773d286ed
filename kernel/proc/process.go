// Package proc implements processes and the round-robin task scheduler.
// Every process except the kernel owns an isolated address space with its
// own stack, heap and anonymous mappings.
package proc

import (
	"kestrel/kernel"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/mm/zone"
	"kestrel/kernel/sync"
)

const (
	// MaxProcesses is the capacity of the process and task tables.
	MaxProcesses = 64

	// MaxMappings is the number of anonymous mappings a process can own.
	MaxMappings = 16

	// UserStackTop is the highest address of a process stack.
	UserStackTop = mm.VirtAddr(0xbfffffff)

	// UserHeapBase is the address where process heaps start.
	UserHeapBase = mm.VirtAddr(0x40000000)

	// DefaultStackSize and DefaultHeapSize are used when a Config leaves
	// the respective size unset.
	DefaultStackSize = uintptr(16 * mm.Kb)
	DefaultHeapSize  = uintptr(64 * mm.Kb)

	// KernelPID is the PID of the kernel process.
	KernelPID = PID(0)
)

// PID identifies a process. PIDs are assigned in increasing order and are
// never reused.
type PID uint32

var (
	errNotInitialized   = &kernel.Error{Module: "proc", Message: "process table is not initialized", Kind: kernel.KindBootOrder}
	errProcessTableFull = &kernel.Error{Module: "proc", Message: "process table is full", Kind: kernel.KindOutOfMemory}
	errRemoveKernel     = &kernel.Error{Module: "proc", Message: "the kernel process cannot be removed", Kind: kernel.KindInvalidArgument}
	errRemoveActive     = &kernel.Error{Module: "proc", Message: "cannot remove a process whose address space is active", Kind: kernel.KindInvalidArgument}
	errNoSuchProcess    = &kernel.Error{Module: "proc", Message: "no such process", Kind: kernel.KindInvalidArgument}

	// overridden by tests
	newPageDirectoryFn = vmm.NewPageDirectory

	processes  [MaxProcesses]Process
	tasks      [MaxProcesses]Task
	nextPID    PID
	kernelProc *Process
)

// Config describes a process to be spawned.
type Config struct {
	// Entry is the address where the process task starts executing.
	Entry uint32

	StackSize uintptr
	HeapSize  uintptr

	// Coalesce enables coalescing in the process heap allocator.
	Coalesce bool
}

// Process owns an address space and the memory zones mapped in it.
type Process struct {
	PID    PID
	Parent *Process

	// Dir is the page directory of the process address space.
	Dir vmm.PageDirectory

	Stack zone.Zone
	Heap  zone.Zone

	// heap is the allocator backing Heap for processes other than the
	// kernel.
	heap kheap.FreeListAllocator

	mappings [MaxMappings]zone.Zone

	firstChild, nextSibling *Process

	pending SignalSet
	task    *Task
	used    bool
}

// Init resets the process and task tables and registers the kernel as the
// process with PID 0. The kernel process runs in kernelDir and uses the
// supplied stack and heap zones. Its task becomes the current task.
func Init(kernelDir vmm.PageDirectory, kernelStack, kernelHeap zone.Zone) *Process {
	sync.EnterCritical()
	defer sync.ExitCritical()

	for index := range processes {
		processes[index] = Process{}
		tasks[index] = Task{}
	}
	current, ticks = nil, 0

	p := &processes[0]
	p.used = true
	p.PID = KernelPID
	p.Dir = kernelDir
	p.Stack, p.Heap = kernelStack, kernelHeap
	nextPID = KernelPID + 1
	kernelProc = p

	t := &tasks[0]
	t.Process, t.CR3 = p, kernelDir.Address()
	t.Regs.ESP = uint32(kernelStack.Top()+1) &^ 0xf
	p.task = t
	t.next, t.prev = t, t
	current = t

	kfmt.Printf("[proc] kernel process initialized (stack: 0x%x, heap: 0x%x)\n", uintptr(kernelStack.Offset), uintptr(kernelHeap.Offset))
	return p
}

// Kernel returns the kernel process or nil if Init has not been called.
func Kernel() *Process {
	return kernelProc
}

// Spawn creates a child of parent (or of the kernel if parent is nil) with a
// fresh address space, a stack that ends at UserStackTop and a heap that
// starts at UserHeapBase. The new task is queued right after the current
// task. Spawn never halts the kernel; failures are returned to the caller
// and any partially built state is released.
func Spawn(parent *Process, cfg Config) (*Process, *kernel.Error) {
	if kernelProc == nil {
		return nil, errNotInitialized
	}

	if parent == nil {
		parent = kernelProc
	}

	if cfg.StackSize == 0 {
		cfg.StackSize = DefaultStackSize
	}
	if cfg.HeapSize == 0 {
		cfg.HeapSize = DefaultHeapSize
	}

	sync.EnterCritical()
	defer sync.ExitCritical()

	p, t := allocSlot()
	if p == nil {
		return nil, errProcessTableFull
	}

	pd, err := newPageDirectoryFn()
	if err != nil {
		return nil, err
	}

	p.Dir = pd
	if p.Stack, err = zone.InitStack(pd, UserStackTop, cfg.StackSize, zone.FlagWritable|zone.FlagUser); err != nil {
		p.release()
		return nil, err
	}

	p.heap = kheap.FreeListAllocator{Coalesce: cfg.Coalesce}
	if p.Heap, err = zone.InitHeap(pd, UserHeapBase, cfg.HeapSize, zone.FlagWritable|zone.FlagUser, &p.heap); err != nil {
		p.release()
		return nil, err
	}

	p.used = true
	p.PID = nextPID
	nextPID++
	parent.addChild(p)

	t.Process, t.CR3 = p, pd.Address()
	t.Regs = Registers{
		EIP:    cfg.Entry,
		ESP:    uint32(p.Stack.Top()+1) &^ 0xf,
		EFlags: flagsInterruptEnable,
	}
	p.task = t
	enqueue(t)

	kfmt.Printf("[proc] spawned process %d (parent %d, stack: %d bytes, heap: %d bytes)\n", uint32(p.PID), uint32(parent.PID), p.Stack.Size, p.Heap.Size)
	return p, nil
}

// allocSlot returns an unused process slot and an unused task slot.
func allocSlot() (*Process, *Task) {
	var (
		p *Process
		t *Task
	)

	for index := range processes {
		if !processes[index].used {
			p = &processes[index]
			break
		}
	}

	for index := range tasks {
		if tasks[index].Process == nil {
			t = &tasks[index]
			break
		}
	}

	if p == nil || t == nil {
		return nil, nil
	}
	return p, t
}

// release frees the zones and the address space owned by p and clears its
// slot.
func (p *Process) release() {
	for index := range p.mappings {
		p.mappings[index].Destroy()
	}
	p.Heap.Destroy()
	p.Stack.Destroy()

	if err := p.Dir.Destroy(); err != nil {
		kfmt.Printf("[proc] unable to release address space of process %d: %s\n", uint32(p.PID), err.Message)
	}

	*p = Process{}
}

// Remove tears down the process. Its children are reparented to its own
// parent, its task leaves the run list and its stack, heap, anonymous
// mappings and address space are released. The kernel process and a
// process whose address space is active cannot be removed.
func (p *Process) Remove() *kernel.Error {
	if p == kernelProc {
		return errRemoveKernel
	}

	if !p.used {
		return errNoSuchProcess
	}

	if p.Dir.IsActive() || p.task == current {
		return errRemoveActive
	}

	sync.EnterCritical()
	defer sync.ExitCritical()

	for child := p.firstChild; child != nil; {
		next := child.nextSibling
		child.nextSibling = nil
		p.Parent.addChild(child)
		child = next
	}
	p.firstChild = nil
	p.Parent.removeChild(p)

	if p.task != nil {
		dequeue(p.task)
		*p.task = Task{}
	}

	pid := p.PID
	p.release()
	kfmt.Printf("[proc] removed process %d\n", uint32(pid))
	return nil
}

func (p *Process) addChild(child *Process) {
	child.Parent = p
	child.nextSibling = p.firstChild
	p.firstChild = child
}

func (p *Process) removeChild(child *Process) {
	for link := &p.firstChild; *link != nil; link = &(*link).nextSibling {
		if *link == child {
			*link = child.nextSibling
			child.nextSibling = nil
			return
		}
	}
}

// VisitChildren invokes visitor for each child of p until it returns false.
func (p *Process) VisitChildren(visitor func(*Process) bool) {
	for child := p.firstChild; child != nil; child = child.nextSibling {
		if !visitor(child) {
			return
		}
	}
}

// Task returns the task that executes the process.
func (p *Process) Task() *Task {
	return p.task
}

// Alloc reserves size bytes from the process heap.
func (p *Process) Alloc(size, align uintptr) (mm.VirtAddr, *kernel.Error) {
	var (
		addr mm.VirtAddr
		err  *kernel.Error
	)

	p.Heap.Enter(func() {
		addr, err = p.Heap.Allocator.Alloc(size, align)
	})
	return addr, err
}

// Dealloc releases a block obtained by Alloc.
func (p *Process) Dealloc(addr mm.VirtAddr, size, align uintptr) {
	p.Heap.Enter(func() {
		p.Heap.Allocator.Dealloc(addr, size, align)
	})
}

// Lookup returns the process with the supplied PID or nil.
func Lookup(pid PID) *Process {
	for index := range processes {
		if processes[index].used && processes[index].PID == pid {
			return &processes[index]
		}
	}
	return nil
}

// VisitProcesses invokes visitor for each process in the table until it
// returns false.
func VisitProcesses(visitor func(*Process) bool) {
	for index := range processes {
		if processes[index].used && !visitor(&processes[index]) {
			return
		}
	}
}

// Count returns the number of live processes, including the kernel.
func Count() int {
	var count int
	VisitProcesses(func(*Process) bool {
		count++
		return true
	})
	return count
}
