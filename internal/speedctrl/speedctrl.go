// Package speedctrl implements the trapezoidal step-delay generator shared
// by both axis drivers and the pen servo: ramp up from an initial delay to
// a target delay, decelerate ahead of junctions or move completion, and
// sleep with drift correction between steps.
package speedctrl

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Controller is a scoped, resettable trapezoidal delay generator. It is not
// safe for concurrent use by more than one axis at a time; the planner
// holds one instance per axis and scopes each with Acquire/Release.
type Controller struct {
	initDelayMs        float64
	targetDelayMs      float64
	accelerationRate   float64
	currentDelayMs     float64
	accelerationStepMs float64
	previousDelayMs    float64
	lastStep           time.Time
	hasLastStep        bool
	running            bool

	log *zap.Logger
}

// New constructs a Controller. target_delay_ms must be strictly less than
// step_delay_ms_init and acceleration_rate must be in (0,1], matching the
// plotter's acceleration-profile validation; otherwise this returns a
// ConfigError.
func New(targetDelayMs, initDelayMs, accelerationRate float64, log *zap.Logger) (*Controller, error) {
	if !(accelerationRate > 0 && accelerationRate <= 1) {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid acceleration rate: %v (must be between zero and one)", accelerationRate)}
	}
	if initDelayMs <= targetDelayMs {
		return nil, &ConfigError{Msg: "invalid values for acceleration profile: step_delay_ms_init must be higher than target_delay_ms"}
	}

	return &Controller{
		initDelayMs:        initDelayMs,
		targetDelayMs:      targetDelayMs,
		accelerationRate:   accelerationRate,
		currentDelayMs:     initDelayMs,
		accelerationStepMs: (initDelayMs - targetDelayMs) * accelerationRate,
		log:                log,
	}, nil
}

// ConfigError marks an invalid speed-control parameter set at construction
// or Update time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Acquire marks the controller as in active use by the current move. It
// mirrors the Python context manager's __enter__.
func (c *Controller) Acquire() *Controller {
	c.running = true
	return c
}

// Release marks the controller idle again, called on every exit path of the
// scope that Acquired it, success or failure.
func (c *Controller) Release() {
	c.running = false
}

// Running reports whether the controller is currently scoped to a move.
func (c *Controller) Running() bool { return c.running }

// DelayMs is the current per-step delay.
func (c *Controller) DelayMs() float64 { return c.currentDelayMs }

// Update recalculates the acceleration step after changing any of the three
// profile parameters; a zero value leaves the corresponding field
// unchanged, matching the optional-parameter update in the original.
func (c *Controller) Update(initDelayMs, targetDelayMs, accelerationRate float64) error {
	if initDelayMs != 0 {
		c.initDelayMs = initDelayMs
	}
	if targetDelayMs != 0 {
		c.targetDelayMs = targetDelayMs
	}
	if accelerationRate != 0 {
		c.accelerationRate = accelerationRate
	}
	return c.recalculateAccelerationStep()
}

func (c *Controller) recalculateAccelerationStep() error {
	step := (c.initDelayMs - c.targetDelayMs) * c.accelerationRate
	if step <= 0 {
		return &ConfigError{Msg: fmt.Sprintf(
			"invalid acceleration delay calculated: init:%v, target:%v, acceleration_rate:%v",
			c.initDelayMs, c.targetDelayMs, c.accelerationRate)}
	}
	c.accelerationStepMs = step
	return nil
}

// UpdateSpeed advances current_delay_ms one tick toward either the target
// (accelerating) or the junction delay implied by remaining_steps
// (decelerating ahead of a junction or the end of the move). Pass
// math.Inf(1) for remainingSteps on a continuous move with no known end.
func (c *Controller) UpdateSpeed(remainingSteps float64, junctionFactor float64) {
	junctionFactor = math.Max(0, math.Min(junctionFactor, 1.0))
	junctionDelayMs := c.targetDelayMs + (c.initDelayMs-c.targetDelayMs)*(1.0-junctionFactor)

	mustDecelerate := c.currentDelayMs < c.targetDelayMs ||
		(junctionDelayMs-c.currentDelayMs)/c.accelerationStepMs >= remainingSteps

	switch {
	case mustDecelerate:
		c.currentDelayMs = math.Min(c.currentDelayMs+c.accelerationStepMs, junctionDelayMs)
	case c.currentDelayMs > c.targetDelayMs:
		c.currentDelayMs = math.Max(c.currentDelayMs-c.accelerationStepMs, c.targetDelayMs)
	}
}

// Control sleeps for the current delay, correcting for how much the
// previous sleep overran its own request so that average step cadence
// tracks current_delay_ms even under scheduler jitter. It returns early if
// ctx is canceled mid-sleep.
func (c *Controller) Control(ctx context.Context) error {
	delay := time.Duration(c.currentDelayMs * float64(time.Millisecond))

	if c.hasLastStep {
		elapsed := time.Since(c.lastStep)
		requested := time.Duration(c.previousDelayMs * float64(time.Millisecond))
		overrun := elapsed - requested
		if overrun > 0 {
			delay -= overrun
			if delay < 0 {
				if c.log != nil {
					c.log.Warn("negative step timing", zap.Duration("overrun", overrun))
				}
				delay = 0
			}
		}
	}

	c.lastStep = time.Now()
	c.hasLastStep = true
	c.previousDelayMs = c.currentDelayMs

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
