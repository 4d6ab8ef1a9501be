package speedctrl

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadAccelerationRate(t *testing.T) {
	_, err := New(5, 20, 0, nil)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestNewRejectsInvertedDelays(t *testing.T) {
	_, err := New(20, 10, 0.5, nil)
	require.Error(t, err)
}

func TestUpdateSpeedAccelerates(t *testing.T) {
	c, err := New(5, 20, 1.0, nil)
	require.NoError(t, err)
	require.Equal(t, 20.0, c.DelayMs())

	c.UpdateSpeed(math.Inf(1), 1.0)
	assert.Equal(t, 5.0, c.DelayMs())
}

func TestUpdateSpeedDeceleratesNearEndOfMove(t *testing.T) {
	c, err := New(5, 20, 0.5, nil)
	require.NoError(t, err)
	c.UpdateSpeed(math.Inf(1), 1.0)
	require.Less(t, c.DelayMs(), 20.0)

	// Few steps remaining with a full-stop junction (factor 0) forces a
	// decelerate branch back toward init.
	c.UpdateSpeed(0, 0.0)
	assert.Greater(t, c.DelayMs(), 5.0)
}

func TestUpdateSpeedJunctionFactorClamped(t *testing.T) {
	c, err := New(5, 20, 1.0, nil)
	require.NoError(t, err)
	// -5 clamps to 0, so the junction delay is init (20); with no steps left
	// the decelerate step is capped there. Unclamped it would reach 35.
	c.UpdateSpeed(0, -5)
	assert.Equal(t, 20.0, c.DelayMs())
}

func TestAcquireRelease(t *testing.T) {
	c, err := New(5, 20, 1.0, nil)
	require.NoError(t, err)
	assert.False(t, c.Running())
	c.Acquire()
	assert.True(t, c.Running())
	c.Release()
	assert.False(t, c.Running())
}

func TestControlSleepsRoughlyCurrentDelay(t *testing.T) {
	c, err := New(5, 20, 1.0, nil)
	require.NoError(t, err)
	c.currentDelayMs = 10

	start := time.Now()
	require.NoError(t, c.Control(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 8*time.Millisecond)
}

func TestControlRespectsContextCancellation(t *testing.T) {
	c, err := New(5, 20, 1.0, nil)
	require.NoError(t, err)
	c.currentDelayMs = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Control(ctx)
	require.Error(t, err)
}
