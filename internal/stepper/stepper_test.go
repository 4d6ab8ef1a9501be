package stepper

import (
	"context"
	"testing"

	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) (*Driver, *hal.MockGPIO) {
	t.Helper()
	gpio := &hal.MockGPIO{}
	for _, pin := range []int{1, 2, 3, 4, 5, 6, 7, 8} {
		require.NoError(t, gpio.SetMode(pin, hal.Output))
	}
	primary := &Axis{Pins: [4]int{1, 2, 3, 4}, Phase: 1}
	secondary := &Axis{Pins: [4]int{5, 6, 7, 8}, Phase: 1}
	return New(gpio, primary, secondary, 1), gpio
}

func TestStepForwardAdvancesPhaseAndPosition(t *testing.T) {
	d, _ := newTestDriver(t)
	require.NoError(t, d.StepPrimary(context.Background(), false))
	assert.Equal(t, 2, d.Primary.Phase)
	assert.Equal(t, 1, d.Primary.Position)
	assert.Equal(t, DirForward, d.Primary.LastDirection)
}

func TestStepWrapsPhaseAtSixteen(t *testing.T) {
	d, _ := newTestDriver(t)
	d.Primary.Phase = 8
	require.NoError(t, d.StepPrimary(context.Background(), false))
	assert.Equal(t, 1, d.Primary.Phase)
}

func TestStepBackwardWrapsPhaseFromOne(t *testing.T) {
	d, _ := newTestDriver(t)
	d.Primary.Phase = 1
	require.NoError(t, d.StepPrimary(context.Background(), true))
	assert.Equal(t, 8, d.Primary.Phase)
	assert.Equal(t, -1, d.Primary.Position)
}

func TestBacklashCompensationDoesNotMovePositionCounter(t *testing.T) {
	d, _ := newTestDriver(t)
	d.Primary.BacklashSteps = 3
	d.Primary.LastDirection = DirForward

	require.NoError(t, d.StepPrimary(context.Background(), true))
	// One real backward step plus three backlash phase transitions, but
	// only the real step counts toward position.
	assert.Equal(t, -1, d.Primary.Position)
}

func TestActivateWritesStoredPhase(t *testing.T) {
	d, gpio := newTestDriver(t)
	d.Primary.Phase = 4
	require.NoError(t, d.Activate())
	assert.True(t, d.IsActive())
	v, err := gpio.DigitalRead(3) // pin index 2 => bit 2 of phase 4 (0b0100)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestDeactivateZeroesCoils(t *testing.T) {
	d, gpio := newTestDriver(t)
	require.NoError(t, d.Activate())
	require.NoError(t, d.Deactivate())
	assert.False(t, d.IsActive())
	for _, pin := range d.Primary.Pins {
		v, err := gpio.DigitalRead(pin)
		require.NoError(t, err)
		assert.False(t, v)
	}
}
