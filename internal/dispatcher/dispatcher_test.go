package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/plotterfw/motioncore/internal/gcode"
	"github.com/plotterfw/motioncore/internal/hal"
	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	primaryLimitPin   = 20
	secondaryLimitPin = 21
	servoPin          = 22
)

func newTestMachine(t *testing.T) (*machine.Machine, *hal.MockGPIO) {
	t.Helper()
	gpio := &hal.MockGPIO{}
	for _, pin := range []int{1, 2, 3, 4, 5, 6, 7, 8, primaryLimitPin, secondaryLimitPin, servoPin} {
		require.NoError(t, gpio.SetMode(pin, hal.Output))
	}

	m, err := machine.New(machine.Config{
		GPIO:              gpio,
		Model:             machine.CartesianModel{UnitPerRevolution: 64, StepsPerRevolution: 2038},
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
		ActiveTimeout: time.Hour,
	})
	require.NoError(t, err)

	// Homing would otherwise block forever in these tests since the mock
	// limit switches never assert; tests exercise RunCommand directly
	// instead of Run, so HomeCycle never runs.
	return m, gpio
}

func TestRunCommandPureXMoveRapid(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G0 X64 Y0"))
	assert.Equal(t, 2038, m.Stepper.Primary.Position)
}

func TestRunCommandInvalidSyntaxIsIgnored(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	err := d.RunCommand(context.Background(), "not gcode at all")
	require.NoError(t, err)
}

func TestRunCommandPositioningTogglesMode(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G91"))
	assert.False(t, m.Absolute())
	require.NoError(t, d.RunCommand(context.Background(), "G90"))
	assert.True(t, m.Absolute())
}

func TestRunCommandPositioningWithEmbeddedMotion(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G91 G0 X1 Y0"))
	assert.False(t, m.Absolute())
	assert.NotEqual(t, 0, m.Stepper.Primary.Position)
}

func TestRunCommandToolChangePauses(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "M6"))
	assert.True(t, m.Paused())
}

func TestRunCommandWCSSetAndSelect(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G54 X10 Y20"))
	require.NoError(t, d.RunCommand(context.Background(), "G54"))
	assert.Equal(t, "G54", m.CurrentCS())
	assert.Equal(t, 10.0, m.CSOffset("G54").X)
}

func TestRunCommandScalingOnAndOff(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G51 S0.5"))
	assert.Equal(t, 0.5, m.CSScaling())
	require.NoError(t, d.RunCommand(context.Background(), "G50"))
	assert.Equal(t, 1.0, m.CSScaling())
}

func TestRunCommandMotionUsesWCSOffsetAndScaling(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "G54 X10 Y0"))
	require.NoError(t, d.RunCommand(context.Background(), "G54"))
	require.NoError(t, d.RunCommand(context.Background(), "G51 S0.5"))

	// Absolute mode, target x=10: offset(10) + 10*0.5 = 15 units -> steps.
	require.NoError(t, d.RunCommand(context.Background(), "G0 X10 Y0"))
	want := int((15.0 / 64.0) * 2038)
	assert.Equal(t, want, m.Stepper.Primary.Position)
}

func TestJunctionFactorIsZeroWhenQueueEmpty(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	f := d.junctionFactor(m.Position(), true, gcode.Motion{Rapid: true, X: 10, Y: 0})
	assert.Equal(t, 0.0, f)
}

func TestJunctionFactorIsOneForColinearQueuedMove(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.True(t, m.Enqueue("G0 X20 Y0"))
	f := d.junctionFactor(m.Position(), true, gcode.Motion{Rapid: true, X: 10, Y: 0})
	assert.InDelta(t, 1.0, f, 1e-9)
}

func TestRunCommandUnblockLimitIsNoOpWithoutAssertedLimit(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	require.NoError(t, d.RunCommand(context.Background(), "M103 X+"))
}

func TestDispatcherSessionAttachDetach(t *testing.T) {
	m, _ := newTestMachine(t)
	d := New(m, zap.NewNop(), time.Millisecond)

	cancelled := false
	s := cancelFunc(func() { cancelled = true })
	d.AttachSession(s)
	assert.True(t, d.HasSession())
	d.CancelSession()
	assert.True(t, cancelled)
	assert.False(t, d.HasSession())
}

type cancelFunc func()

func (c cancelFunc) Cancel() { c() }
