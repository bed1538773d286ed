//go:build !386

package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingMachine struct {
	detachedMachine
	flushed []uintptr
	halts   int
}

func (m *recordingMachine) FlushTLBEntry(addr uintptr) { m.flushed = append(m.flushed, addr) }
func (m *recordingMachine) Halt() { m.halts++ }

func TestAttach(t *testing.T) {
	defer Attach(nil)

	m := &recordingMachine{}
	Attach(m)

	EnableInterrupts()
	assert.True(t, InterruptsEnabled())
	DisableInterrupts()
	assert.False(t, InterruptsEnabled())

	SwitchPDT(0x1000)
	assert.Equal(t, uintptr(0x1000), ActivePDT())

	FlushTLBEntry(0xc0000000)
	Halt()
	assert.Equal(t, []uintptr{0xc0000000}, m.flushed)
	assert.Equal(t, 1, m.halts)

	Attach(nil)
	assert.Equal(t, uintptr(0), ActivePDT(), "detaching should reset the machine state")
}
