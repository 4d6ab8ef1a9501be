// Package stepper drives the two unipolar four-wire stepper motors: coil
// phase sequencing, directional backlash compensation, and coil
// activation/deactivation. It talks only to hal.GPIOProvider and per-axis
// state structs; it knows nothing about coordinates or queues.
package stepper

import (
	"context"
	"time"

	"github.com/plotterfw/motioncore/internal/hal"
)

// Direction is the last direction an axis stepped in.
type Direction int

const (
	DirUnset Direction = iota
	DirForward
	DirBackward
)

// numPhasePins is fixed: every axis is a four-wire unipolar stepper.
const numPhasePins = 4

// Axis is the live coil-drive state of one stepper motor.
type Axis struct {
	Pins          [numPhasePins]int
	BacklashSteps int
	Phase         int // one of {1,2,4,8}; callers start it at 1
	Position      int // signed step count
	LastDirection Direction
}

// Driver sequences coil phases for both axes through a GPIOProvider.
type Driver struct {
	gpio             hal.GPIOProvider
	Primary          *Axis
	Secondary        *Axis
	StepDelayMsRapid float64
	activated        bool
}

func New(gpio hal.GPIOProvider, primary, secondary *Axis, stepDelayMsRapid float64) *Driver {
	return &Driver{gpio: gpio, Primary: primary, Secondary: secondary, StepDelayMsRapid: stepDelayMsRapid}
}

// Activate writes each axis's stored phase to its coil pins and marks the
// driver as holding torque. Deactivate writes all-zero and releases torque.
func (d *Driver) Activate() error {
	if err := writePhase(d.gpio, d.Primary.Pins, d.Primary.Phase); err != nil {
		return err
	}
	if err := writePhase(d.gpio, d.Secondary.Pins, d.Secondary.Phase); err != nil {
		return err
	}
	d.activated = true
	return nil
}

func (d *Driver) Deactivate() error {
	if err := writePhase(d.gpio, d.Primary.Pins, 0); err != nil {
		return err
	}
	if err := writePhase(d.gpio, d.Secondary.Pins, 0); err != nil {
		return err
	}
	d.activated = false
	return nil
}

func (d *Driver) IsActive() bool { return d.activated }

// StepPrimary and StepSecondary advance one axis by a single step, applying
// backlash compensation first if the direction just reversed.
func (d *Driver) StepPrimary(ctx context.Context, backward bool) error {
	return d.step(ctx, d.Primary, backward)
}

func (d *Driver) StepSecondary(ctx context.Context, backward bool) error {
	return d.step(ctx, d.Secondary, backward)
}

func (d *Driver) step(ctx context.Context, axis *Axis, backward bool) error {
	// Backlash correction: if reversing direction, re-tension the coupling
	// in the new direction first, without moving the position counter.
	if axis.BacklashSteps > 0 {
		reversingToBackward := backward && axis.LastDirection == DirForward
		reversingToForward := !backward && axis.LastDirection == DirBackward
		if reversingToBackward || reversingToForward {
			for i := 0; i < axis.BacklashSteps; i++ {
				advancePhase(axis, backward)
				if err := writePhase(d.gpio, axis.Pins, axis.Phase); err != nil {
					return err
				}
				if err := sleepMs(ctx, d.StepDelayMsRapid); err != nil {
					return err
				}
			}
		}
	}

	if backward {
		axis.LastDirection = DirBackward
	} else {
		axis.LastDirection = DirForward
	}

	advancePhase(axis, backward)
	if backward {
		axis.Position--
	} else {
		axis.Position++
	}

	return writePhase(d.gpio, axis.Pins, axis.Phase)
}

// advancePhase doubles the phase going forward, halves it going backward,
// wrapping 1<->8 at the ends and 16 back to 1.
func advancePhase(axis *Axis, backward bool) {
	if backward {
		if axis.Phase > 1 {
			axis.Phase /= 2
		} else {
			axis.Phase = 1 << (numPhasePins - 1)
		}
	} else {
		axis.Phase *= 2
	}
	if axis.Phase == 1<<numPhasePins {
		axis.Phase = 1
	}
}

func writePhase(gpio hal.GPIOProvider, pins [numPhasePins]int, phase int) error {
	for i, pin := range pins {
		if err := gpio.DigitalWrite(pin, (phase>>uint(i))&1 == 1); err != nil {
			return err
		}
	}
	return nil
}

func sleepMs(ctx context.Context, ms float64) error {
	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
