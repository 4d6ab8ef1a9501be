package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMotion(t *testing.T) {
	cmd, err := Parse("G1 X10.5 Y-3")
	require.NoError(t, err)
	m, ok := cmd.(Motion)
	require.True(t, ok)
	assert.False(t, m.Rapid)
	assert.Equal(t, 10.5, m.X)
	assert.Equal(t, -3.0, m.Y)
}

func TestParseRapidMotion(t *testing.T) {
	cmd, err := Parse("G0 X0 Y0")
	require.NoError(t, err)
	m := cmd.(Motion)
	assert.True(t, m.Rapid)
}

func TestParsePositioningBare(t *testing.T) {
	cmd, err := Parse("G91")
	require.NoError(t, err)
	pos := cmd.(Positioning)
	assert.False(t, pos.Absolute)
	assert.Nil(t, pos.Motion)
}

func TestParsePositioningWithMotion(t *testing.T) {
	cmd, err := Parse("G90 G1 X5 Y5")
	require.NoError(t, err)
	pos := cmd.(Positioning)
	assert.True(t, pos.Absolute)
	require.NotNil(t, pos.Motion)
	assert.Equal(t, 5.0, pos.Motion.X)
}

func TestParseHoming(t *testing.T) {
	cmd, err := Parse("G28")
	require.NoError(t, err)
	_, ok := cmd.(Homing)
	assert.True(t, ok)
}

func TestParseToolChange(t *testing.T) {
	for _, line := range []string{"M6", "M06"} {
		cmd, err := Parse(line)
		require.NoError(t, err)
		_, ok := cmd.(ToolChange)
		assert.True(t, ok)
	}
}

func TestParseMCodes(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"M100", MeasureWorkspace{}},
		{"M101", MeasureStepLoss{}},
		{"M102", MeasureFeedrate{}},
		{"M104", EjectWorkspace{}},
	}
	for _, c := range cases {
		cmd, err := Parse(c.line)
		require.NoError(t, err)
		assert.IsType(t, c.want, cmd)
	}
}

func TestParseUnblockLimit(t *testing.T) {
	cmd, err := Parse("M103 X+")
	require.NoError(t, err)
	u := cmd.(UnblockLimit)
	assert.Equal(t, byte('X'), u.Axis)
	assert.True(t, u.Positive)

	cmd, err = Parse("M103y-")
	require.NoError(t, err)
	u = cmd.(UnblockLimit)
	assert.Equal(t, byte('Y'), u.Axis)
	assert.False(t, u.Positive)
}

func TestParseWCSSet(t *testing.T) {
	cmd, err := Parse("G54 X100 Y-50.5")
	require.NoError(t, err)
	w := cmd.(WCSSet)
	assert.Equal(t, "G54", w.CS)
	assert.Equal(t, 100.0, w.X)
	assert.Equal(t, -50.5, w.Y)
}

func TestParseWCSSetDecimalVariant(t *testing.T) {
	cmd, err := Parse("G59.1 X1 Y2")
	require.NoError(t, err)
	w := cmd.(WCSSet)
	assert.Equal(t, "G59.1", w.CS)
}

func TestParseCSSelect(t *testing.T) {
	cmd, err := Parse("G53")
	require.NoError(t, err)
	c := cmd.(CSSelect)
	assert.Equal(t, "G53", c.CS)
}

func TestParseScalingOff(t *testing.T) {
	cmd, err := Parse("G50")
	require.NoError(t, err)
	s := cmd.(Scaling)
	assert.False(t, s.Enabled)
}

func TestParseScalingOn(t *testing.T) {
	cmd, err := Parse("G51 S2.5")
	require.NoError(t, err)
	s := cmd.(Scaling)
	assert.True(t, s.Enabled)
	assert.Equal(t, 2.5, s.Factor)
}

func TestParseInvalidSyntax(t *testing.T) {
	_, err := Parse("this is not gcode")
	require.Error(t, err)
	var serr *ErrInvalidSyntax
	require.ErrorAs(t, err, &serr)
}
