//go:build !386

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"kestrel/kernel"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/kheap"
	"kestrel/kernel/mm/zone"
	"kestrel/kernel/proc"

	semver "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the version of the scenario file format understood by
// this build. Scenarios declare the versions they are written for with a
// semver constraint in their requires field.
const SchemaVersion = "1.1.0"

// Scenario operations.
const (
	opSpawn  = "spawn"
	opRemove = "remove"
	opKill   = "kill"
	opTick   = "tick"
	opAlloc  = "alloc"
	opFree   = "free"
	opMmap   = "mmap"
	opMunmap = "munmap"
	opSignal = "signal"
)

// Heaps that kernel allocations can be served from.
const (
	heapKernel = "kernel"
	heapPhys   = "phys"
)

// Scenario is a sequence of memory manager operations.
type Scenario struct {
	Requires string        `yaml:"requires"`
	Machine  MachineConfig `yaml:"machine"`
	Steps    []Step        `yaml:"steps"`
}

// MachineConfig describes the emulated machine a scenario runs on.
type MachineConfig struct {
	RAM     string `yaml:"ram"`
	CmdLine string `yaml:"cmdline"`
}

// Step is a single scenario operation. The fields used depend on Op.
type Step struct {
	Op string `yaml:"op"`

	// Name identifies the process created by spawn or the block created
	// by alloc and mmap. free and munmap refer to blocks by name.
	Name string `yaml:"name"`

	// Process names the process an operation applies to. An empty value
	// refers to the kernel.
	Process string `yaml:"process"`
	Parent  string `yaml:"parent"`

	Size  string `yaml:"size"`
	Align uint   `yaml:"align"`
	Addr  uint64 `yaml:"addr"`
	Heap  string `yaml:"heap"`
	Count int    `yaml:"count"`

	Signal uint8 `yaml:"signal"`

	// ExpectError marks steps that must fail.
	ExpectError bool `yaml:"expect_error"`
}

// block is a live allocation or mapping created by a scenario.
type block struct {
	addr        mm.VirtAddr
	size, align uintptr
	owner       *proc.Process
	heap        string
	mapping     bool
}

// Result summarizes a scenario run.
type Result struct {
	Steps       int
	Processes   int
	TotalFrames uint32
	UsedFrames  uint32
	Before      kheap.Stats
	After       kheap.Stats

	// Leak is set if the scenario did not release every heap block it
	// allocated.
	Leak *kernel.Error
}

// loadScenario reads and validates a scenario file.
func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScenario(data)
}

// parseScenario decodes a scenario and checks that it is compatible with
// SchemaVersion.
func parseScenario(data []byte) (*Scenario, error) {
	var sc Scenario

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}

	if sc.Requires != "" {
		constraint, err := semver.NewConstraint(sc.Requires)
		if err != nil {
			return nil, fmt.Errorf("invalid requires constraint %q: %w", sc.Requires, err)
		}

		if !constraint.Check(semver.MustParse(SchemaVersion)) {
			return nil, fmt.Errorf("scenario requires schema %s; this build supports %s", sc.Requires, SchemaVersion)
		}
	}

	for index, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", index+1, step.Op, err)
		}
	}

	return &sc, nil
}

func (s *Step) validate() error {
	switch s.Op {
	case opSpawn:
		if s.Name == "" {
			return errors.New("spawn requires a name")
		}
	case opRemove, opKill:
		if s.Process == "" {
			return errors.New("a process is required")
		}
	case opSignal:
		if s.Process == "" || s.Signal == 0 {
			return errors.New("a process and a signal are required")
		}
	case opTick:
		if s.Count < 0 {
			return errors.New("count cannot be negative")
		}
	case opAlloc, opMmap:
		if s.Name == "" {
			return errors.New("a block name is required")
		}
		if _, ok := mm.ParseSize(s.Size); !ok {
			return fmt.Errorf("invalid size %q", s.Size)
		}
		if s.Heap != "" && s.Heap != heapKernel && s.Heap != heapPhys {
			return fmt.Errorf("unknown heap %q", s.Heap)
		}
	case opFree, opMunmap:
		if s.Name == "" {
			return errors.New("a block name is required")
		}
	default:
		return fmt.Errorf("unknown operation %q", s.Op)
	}
	return nil
}

// runner executes scenario steps against a simulator.
type runner struct {
	sim    *simulator
	log    io.Writer
	procs  map[string]*proc.Process
	blocks map[string]block
}

// runScenario executes the scenario steps on sim and checks the kernel heaps
// for leaks.
func runScenario(sim *simulator, sc *Scenario, log io.Writer) (Result, error) {
	r := &runner{
		sim:    sim,
		log:    log,
		procs:  make(map[string]*proc.Process),
		blocks: make(map[string]block),
	}

	res := Result{Before: kheap.Snapshot()}
	for index := range sc.Steps {
		step := &sc.Steps[index]

		err := r.exec(step)
		switch {
		case err != nil && !step.ExpectError:
			return res, fmt.Errorf("step %d (%s): %w", index+1, step.Op, err)
		case err == nil && step.ExpectError:
			return res, fmt.Errorf("step %d (%s): expected an error", index+1, step.Op)
		case err != nil:
			fmt.Fprintf(log, "step %d (%s): failed as expected: %v\n", index+1, step.Op, err)
		}
		res.Steps++
	}

	res.After = kheap.Snapshot()
	res.Leak = kheap.CheckLeaks(res.Before, res.After)
	res.Processes = proc.Count()
	res.TotalFrames, res.UsedFrames = sim.frames()
	return res, nil
}

// process resolves a process name. An empty name refers to the kernel.
func (r *runner) process(name string) (*proc.Process, error) {
	if name == "" {
		return r.sim.stage.Kernel, nil
	}

	p, ok := r.procs[name]
	if !ok || proc.Lookup(p.PID) != p {
		return nil, fmt.Errorf("unknown process %q", name)
	}
	return p, nil
}

func (r *runner) exec(step *Step) error {
	switch step.Op {
	case opSpawn:
		parent, err := r.process(step.Parent)
		if err != nil {
			return err
		}

		p, kerr := r.sim.stage.Spawn(parent, 0)
		if kerr != nil {
			return kerr
		}
		r.procs[step.Name] = p
		fmt.Fprintf(r.log, "spawned %s (pid %d)\n", step.Name, p.PID)
	case opRemove:
		p, err := r.process(step.Process)
		if err != nil {
			return err
		}
		if kerr := p.Remove(); kerr != nil {
			return kerr
		}
	case opKill:
		p, err := r.process(step.Process)
		if err != nil {
			return err
		}
		if kerr := proc.Kill(p.PID); kerr != nil {
			return kerr
		}
	case opSignal:
		p, err := r.process(step.Process)
		if err != nil {
			return err
		}
		if kerr := p.Signal(proc.Signal(step.Signal)); kerr != nil {
			return kerr
		}
	case opTick:
		count := step.Count
		if count == 0 {
			count = 1
		}
		r.sim.tick(count)
	case opAlloc:
		return r.alloc(step)
	case opFree:
		return r.free(step)
	case opMmap:
		return r.mmap(step)
	case opMunmap:
		return r.munmap(step)
	}
	return nil
}

func (r *runner) alloc(step *Step) error {
	if _, exists := r.blocks[step.Name]; exists {
		return fmt.Errorf("block %q already exists", step.Name)
	}

	size, _ := mm.ParseSize(step.Size)
	b := block{size: uintptr(size), align: uintptr(step.Align), heap: step.Heap}
	if b.align == 0 {
		b.align = 1
	}

	var kerr *kernel.Error
	switch {
	case step.Heap == heapPhys:
		b.addr, kerr = kheap.PhysAlloc(b.size, b.align)
	case step.Heap == heapKernel || step.Process == "":
		b.heap = heapKernel
		b.addr, kerr = kheap.Alloc(b.size, b.align)
	default:
		p, err := r.process(step.Process)
		if err != nil {
			return err
		}
		b.owner = p
		b.addr, kerr = p.Alloc(b.size, b.align)
	}

	if kerr != nil {
		return kerr
	}

	r.blocks[step.Name] = b
	return nil
}

func (r *runner) free(step *Step) error {
	b, ok := r.blocks[step.Name]
	if !ok || b.mapping {
		return fmt.Errorf("unknown block %q", step.Name)
	}

	switch {
	case b.owner != nil:
		if proc.Lookup(b.owner.PID) != b.owner {
			return fmt.Errorf("block %q belongs to a process that no longer exists", step.Name)
		}
		b.owner.Dealloc(b.addr, b.size, b.align)
	case b.heap == heapPhys:
		kheap.PhysDealloc(b.addr, b.size, b.align)
	default:
		kheap.Dealloc(b.addr, b.size, b.align)
	}

	delete(r.blocks, step.Name)
	return nil
}

func (r *runner) mmap(step *Step) error {
	if _, exists := r.blocks[step.Name]; exists {
		return fmt.Errorf("block %q already exists", step.Name)
	}

	p, err := r.process(step.Process)
	if err != nil {
		return err
	}

	size, _ := mm.ParseSize(step.Size)
	addr, kerr := p.Mmap(mm.VirtAddr(step.Addr), uintptr(size), zone.FlagWritable)
	if kerr != nil {
		return kerr
	}

	r.blocks[step.Name] = block{addr: addr, size: uintptr(size), owner: p, mapping: true}
	fmt.Fprintf(r.log, "mapped %s at 0x%x\n", step.Name, uintptr(addr))
	return nil
}

func (r *runner) munmap(step *Step) error {
	b, ok := r.blocks[step.Name]
	if !ok || !b.mapping {
		return fmt.Errorf("unknown mapping %q", step.Name)
	}

	if proc.Lookup(b.owner.PID) != b.owner {
		return fmt.Errorf("mapping %q belongs to a process that no longer exists", step.Name)
	}

	if kerr := b.owner.Munmap(b.addr); kerr != nil {
		return kerr
	}

	delete(r.blocks, step.Name)
	return nil
}
