package machine

import (
	"context"
	"errors"
	"testing"

	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	primaryLimitPin   = 20
	secondaryLimitPin = 21
	servoPin          = 22
)

func newTestMachine(t *testing.T) (*Machine, *hal.MockGPIO) {
	t.Helper()
	gpio := &hal.MockGPIO{}
	for _, pin := range []int{1, 2, 3, 4, 5, 6, 7, 8, primaryLimitPin, secondaryLimitPin, servoPin} {
		require.NoError(t, gpio.SetMode(pin, hal.Output))
	}

	m, err := New(Config{
		GPIO:              gpio,
		Model:             CartesianModel{UnitPerRevolution: 64, StepsPerRevolution: 2038},
		PrimaryPins:       [4]int{1, 2, 3, 4},
		SecondaryPins:     [4]int{5, 6, 7, 8},
		ServoPin:          servoPin,
		PrimaryLimitPin:   primaryLimitPin,
		SecondaryLimitPin: secondaryLimitPin,

		StepsPerRevolution: 2038,
		StepDelayMsRapid:   1,
		StepDelayMsLinear:  2,
		StepDelayMsInit:    5,
		AccelerationRate:   1.0,

		MinPenDuty:          10,
		MaxPenDuty:          110,
		PenDelayMsInit:      2,
		PenDelayMsTarget:    1,
		PenAccelerationRate: 1.0,

		XMin: 0, YMin: 0, XMax: 128, YMax: 131.5,
	})
	require.NoError(t, err)
	return m, gpio
}

func TestNewRejectsInvertedGlobalBoundaries(t *testing.T) {
	gpio := &hal.MockGPIO{}
	_, err := New(Config{
		GPIO:  gpio,
		Model: CartesianModel{UnitPerRevolution: 1, StepsPerRevolution: 1},
		XMin:  10, XMax: 0, YMin: 0, YMax: 10,
	})
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestPureXMoveRapidCartesian(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.MoveTo(context.Background(), 64, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 2038, m.Stepper.Primary.Position)
	assert.Equal(t, 0, m.Stepper.Secondary.Position)
}

func TestDiagonalMoveStepsBothAxesEqually(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.MoveTo(context.Background(), 1, 1, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 31, m.Stepper.Primary.Position)
	assert.Equal(t, 31, m.Stepper.Secondary.Position)
}

func TestMoveToNoOpWhenStepDifferentialIsZero(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.MoveTo(context.Background(), 0, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stepper.Primary.Position)
}

func TestMoveToClampsWhenRejectOOBIsFalse(t *testing.T) {
	m, _ := newTestMachine(t)
	m.RejectOOB = false
	err := m.MoveTo(context.Background(), 999, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 4076, m.Stepper.Primary.Position) // clamped to x_max=128 -> (128/64)*2038 steps
}

func TestMoveToRejectsOutOfBoundsWhenConfigured(t *testing.T) {
	m, _ := newTestMachine(t)
	m.RejectOOB = true
	err := m.MoveTo(context.Background(), 999, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.Error(t, err)
	var oob *OutOfBoundsError
	require.ErrorAs(t, err, &oob)
	assert.Equal(t, 0, m.Stepper.Primary.Position)
}

func TestMoveToFailsOnAssertedLimitSwitch(t *testing.T) {
	m, gpio := newTestMachine(t)
	gpio.SetInputValue(primaryLimitPin, true)
	err := m.MoveTo(context.Background(), 64, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	require.Error(t, err)
	var fault *LimitSwitchFault
	require.ErrorAs(t, err, &fault)
}

func TestUnsafeMoveIgnoresLimitSwitch(t *testing.T) {
	m, gpio := newTestMachine(t)
	gpio.SetInputValue(primaryLimitPin, true)
	err := m.MoveToDefault(context.Background(), 64, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2038, m.Stepper.Primary.Position)
}

func TestSetUserBoundariesRejectsOutsideGlobal(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.SetUserBoundaries(-1, 0, 100, 100)
	require.Error(t, err)
	var verr *ValueError
	require.ErrorAs(t, err, &verr)
}

func TestSetUserBoundariesWithinGlobalSucceeds(t *testing.T) {
	m, _ := newTestMachine(t)
	require.NoError(t, m.SetUserBoundaries(0, 0, 50, 50))
	m.RejectOOB = true
	err := m.MoveTo(context.Background(), 100, 0, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0, true)
	var oob *OutOfBoundsError
	require.True(t, errors.As(err, &oob))
}

func TestPositionPenWalksDutyAndUpdatesPWM(t *testing.T) {
	m, gpio := newTestMachine(t)
	require.NoError(t, m.RaiseTool(context.Background()))
	assert.Equal(t, 110, gpio.PWMValue(servoPin))
	require.NoError(t, m.LowerTool(context.Background()))
	assert.Equal(t, 10, gpio.PWMValue(servoPin))
}

func TestPositionPenRejectsOutOfRangeTarget(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.PositionPen(context.Background(), 101)
	require.Error(t, err)
	var verr *ValueError
	require.ErrorAs(t, err, &verr)
}

func TestCSSelectAndOffset(t *testing.T) {
	m, _ := newTestMachine(t)
	require.NoError(t, m.SetCSOffset("G54", 10, 20))
	require.NoError(t, m.SelectCS("G54"))
	assert.Equal(t, "G54", m.CurrentCS())
	assert.Equal(t, 10.0, m.CSOffset("G54").X)
}

func TestG53OffsetCannotBeReassigned(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.SetCSOffset("G53", 1, 1)
	require.Error(t, err)
	assert.Equal(t, 0.0, m.CSOffset("G53").X)
}

func TestSelectingUnknownCSFails(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.SelectCS("G99")
	require.Error(t, err)
}

func TestEnqueueRespectsMaxQueueLength(t *testing.T) {
	m, _ := newTestMachine(t)
	m.MaxQueueLength = 2
	assert.True(t, m.Enqueue("G0 X1 Y1"))
	assert.True(t, m.Enqueue("G0 X2 Y2"))
	assert.False(t, m.Enqueue("G0 X3 Y3"))
	assert.Equal(t, 2, m.QueueLen())

	line, ok := m.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "G0 X1 Y1", line)
	assert.Equal(t, 1, m.QueueLen())
}

func TestIsPrimaryHomeRequiresBackwardDirection(t *testing.T) {
	m, gpio := newTestMachine(t)
	gpio.SetInputValue(primaryLimitPin, true)
	assert.True(t, m.IsPrimaryLimit())
	assert.False(t, m.IsPrimaryHome(), "limit asserted but no backward motion yet")

	require.NoError(t, m.Stepper.StepPrimary(context.Background(), true))
	assert.True(t, m.IsPrimaryHome())
}
