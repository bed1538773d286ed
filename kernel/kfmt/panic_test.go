package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"kestrel/kernel"
	"kestrel/kernel/cpu"

	"github.com/stretchr/testify/assert"
)

func TestPanic(t *testing.T) {
	defer func() {
		haltFn = cpu.Halt
		maskInterruptsFn = cpu.DisableInterrupts
		outputSink = nil
	}()

	var halted, masked bool
	haltFn = func() { halted = true }
	maskInterruptsFn = func() { masked = true }

	var buf bytes.Buffer
	SetOutputSink(&buf)

	specs := []struct {
		cause interface{}
		exp   string
	}{
		{&kernel.Error{Module: "vmm", Message: "out of page tables"}, "\n*** kernel panic ***\n[vmm] out of page tables\nsystem halted\n"},
		{errors.New("index out of range"), "\n*** kernel panic ***\n[runtime] index out of range\nsystem halted\n"},
		{"heap corrupted", "\n*** kernel panic ***\n[runtime] heap corrupted\nsystem halted\n"},
		{nil, "\n*** kernel panic ***\nsystem halted\n"},
		{42, "\n*** kernel panic ***\nsystem halted\n"},
	}

	for specIndex, spec := range specs {
		buf.Reset()
		halted, masked = false, false

		Panic(spec.cause)

		assert.Equal(t, spec.exp, buf.String(), "spec %d", specIndex)
		assert.True(t, halted, "spec %d: expected the CPU to be halted", specIndex)
		assert.True(t, masked, "spec %d: expected interrupts to be masked", specIndex)
	}
}
