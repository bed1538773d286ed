package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockInterrupts(t *testing.T, enabled bool) *int {
	t.Helper()

	origDisable, origEnable, origEnabled := disableInterruptsFn, enableInterruptsFn, interruptsEnabledFn
	t.Cleanup(func() {
		disableInterruptsFn, enableInterruptsFn, interruptsEnabledFn = origDisable, origEnable, origEnabled
		depth, restoreInterrupts = 0, false
	})

	toggles := new(int)
	interruptsEnabledFn = func() bool { return enabled }
	disableInterruptsFn = func() { enabled = false; *toggles++ }
	enableInterruptsFn = func() { enabled = true; *toggles++ }
	return toggles
}

func TestCriticalSectionNesting(t *testing.T) {
	toggles := mockInterrupts(t, true)

	EnterCritical()
	EnterCritical()
	assert.Equal(t, uint32(2), Depth())
	assert.False(t, interruptsEnabledFn())

	ExitCritical()
	assert.False(t, interruptsEnabledFn(), "inner exit must keep interrupts masked")

	ExitCritical()
	assert.True(t, interruptsEnabledFn())
	assert.Equal(t, 2, *toggles)

	// unbalanced exit is ignored
	ExitCritical()
	assert.Equal(t, uint32(0), Depth())
}

func TestCriticalSectionFromInterruptHandler(t *testing.T) {
	mockInterrupts(t, false)

	EnterCritical()
	ExitCritical()
	assert.False(t, interruptsEnabledFn(), "interrupts were masked on entry and must stay masked")
}

func TestGuard(t *testing.T) {
	mockInterrupts(t, true)

	var g Guard
	g.Acquire()
	require.True(t, g.Held())
	assert.Equal(t, uint32(1), Depth())

	assert.PanicsWithValue(t, errReentrantAccess, func() { g.Acquire() })
	assert.Equal(t, uint32(1), Depth(), "failed acquire must not leak a critical section")

	g.Release()
	assert.False(t, g.Held())
	assert.Equal(t, uint32(0), Depth())
	assert.True(t, interruptsEnabledFn())

	// releasing a free guard has no effect
	g.Release()
	assert.Equal(t, uint32(0), Depth())
}
