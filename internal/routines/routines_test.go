package routines

import (
	"context"
	"testing"
	"time"

	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	primaryLimitPin   = 20
	secondaryLimitPin = 21
	servoPin          = 22
)

func newTestMachine(t *testing.T, stepsPerRevolution int) (*machine.Machine, *hal.MockGPIO) {
	t.Helper()
	gpio := &hal.MockGPIO{}
	for _, pin := range []int{1, 2, 3, 4, 5, 6, 7, 8, primaryLimitPin, secondaryLimitPin, servoPin} {
		require.NoError(t, gpio.SetMode(pin, hal.Output))
	}

	m, err := machine.New(machine.Config{
		GPIO:              gpio,
		Model:             machine.CartesianModel{UnitPerRevolution: 64, StepsPerRevolution: stepsPerRevolution},
		PrimaryPins:       [4]int{1, 2, 3, 4},
		SecondaryPins:     [4]int{5, 6, 7, 8},
		ServoPin:          servoPin,
		PrimaryLimitPin:   primaryLimitPin,
		SecondaryLimitPin: secondaryLimitPin,

		StepsPerRevolution: stepsPerRevolution,
		StepDelayMsRapid:   1,
		StepDelayMsLinear:  1,
		StepDelayMsInit:    2,
		AccelerationRate:   1.0,

		MinPenDuty:          10,
		MaxPenDuty:          12,
		PenDelayMsInit:      2,
		PenDelayMsTarget:    1,
		PenAccelerationRate: 1.0,

		XMin: 0, YMin: 0, XMax: 128, YMax: 131.5,
	})
	require.NoError(t, err)
	return m, gpio
}

func TestHomeCycleFailsWhenLimitAlreadyAsserted(t *testing.T) {
	m, gpio := newTestMachine(t, 2038)
	gpio.SetInputValue(primaryLimitPin, true)

	err := HomeCycle(context.Background(), m, nil)
	require.Error(t, err)
	var fault *machine.LimitSwitchFault
	require.ErrorAs(t, err, &fault)
}

func TestHomeCycleFailsToUntriggerStuckSwitch(t *testing.T) {
	// Small steps_per_revolution so the backoff loop's budget is tiny. Both
	// limit pins start false so home cycle clears its pre-check and enters
	// the approach loop; a background goroutine then asserts both switches
	// once the axes are mid-approach (last direction already BACKWARD), so
	// the approach phase reports "home" but the backoff phase can never
	// clear the (permanently stuck) switches and must give up.
	m, gpio := newTestMachine(t, 3)

	go func() {
		time.Sleep(20 * time.Millisecond)
		gpio.SetInputValue(primaryLimitPin, true)
		gpio.SetInputValue(secondaryLimitPin, true)
	}()

	err := HomeCycle(context.Background(), m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot untrigger")
}

func TestUnblockLimitNoOpWhenNoLimitAsserted(t *testing.T) {
	m, _ := newTestMachine(t, 2038)
	err := UnblockLimit(context.Background(), m, nil, 'X', true)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stepper.Primary.Position)
}

func TestEjectWorkspaceMovesToParkPosition(t *testing.T) {
	m, gpio := newTestMachine(t, 50) // small steps_per_revolution keeps the test fast
	err := EjectWorkspace(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 12, gpio.PWMValue(servoPin)) // raised before moving
	pos := m.Position()
	assert.InDelta(t, 64.0, pos.X, 2.0)   // x_max/2
	assert.InDelta(t, 126.5, pos.Y, 2.0) // y_max-5
}
