// Package routines implements the plotter's canned multi-step procedures:
// homing, workspace and step-loss measurement, feedrate measurement, limit
// unblocking, and workspace ejection. Each routine drives a *machine.Machine
// directly, stepping individual axes or calling MoveTo as the procedure
// requires, rather than going through the G-code dispatcher.
package routines

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/plotterfw/motioncore/internal/speedctrl"
	"go.uber.org/zap"
)

// HomeCycle drives both axes BACKWARD until their limit switches assert
// with a BACKWARD last direction ("home"), then backs off just far enough
// to clear the switches again, and zeroes both position counters. A limit
// switch already asserted before the cycle starts is a LimitSwitchFault; a
// switch that won't clear after a full revolution's worth of forward steps
// is a ValueError.
func HomeCycle(ctx context.Context, m *machine.Machine, log *zap.Logger) error {
	if err := m.RaiseTool(ctx); err != nil {
		return err
	}

	if primary, secondary := m.LimitStatus(); primary || secondary {
		return &machine.LimitSwitchFault{Msg: "limit switch hit before homing cycle"}
	}

	approach, err := speedctrl.New(m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return err
	}
	approach.Acquire()
	for !m.IsPrimaryHome() || !m.IsSecondaryHome() {
		if !m.IsPrimaryHome() {
			if err := m.Stepper.StepPrimary(ctx, true); err != nil {
				approach.Release()
				return err
			}
		}
		if !m.IsSecondaryHome() {
			if err := m.Stepper.StepSecondary(ctx, true); err != nil {
				approach.Release()
				return err
			}
		}
		approach.UpdateSpeed(math.Inf(1), 1.0)
		if err := approach.Control(ctx); err != nil {
			approach.Release()
			return err
		}
	}
	approach.Release()

	backoff, err := speedctrl.New(m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return err
	}
	backoff.Acquire()
	defer backoff.Release()

	offsetSteps := 0
	for m.IsPrimaryLimit() || m.IsSecondaryLimit() {
		if offsetSteps > m.StepsPerRevolution {
			return &machine.ValueError{Msg: "limit switch error, cannot untrigger"}
		}
		if m.IsPrimaryLimit() {
			if err := m.Stepper.StepPrimary(ctx, false); err != nil {
				return err
			}
		}
		if m.IsSecondaryLimit() {
			if err := m.Stepper.StepSecondary(ctx, false); err != nil {
				return err
			}
		}
		offsetSteps++
		backoff.UpdateSpeed(math.Inf(1), 1.0)
		if err := backoff.Control(ctx); err != nil {
			return err
		}
	}

	m.Stepper.Primary.Position = 0
	m.Stepper.Secondary.Position = 0
	return nil
}

// MeasureStepLoss homes, drives unsafely to one revolution's worth of
// travel on both axes, then counts the actual steps needed to return home,
// logging any mismatch against the expected step count.
func MeasureStepLoss(ctx context.Context, m *machine.Machine, log *zap.Logger) error {
	expectedSteps := m.StepsPerRevolution
	measureOffset := float64(m.StepsPerRevolution)

	if err := HomeCycle(ctx, m, log); err != nil {
		return err
	}
	if err := m.MoveTo(ctx, measureOffset, measureOffset, m.StepDelayMsLinear, m.StepDelayMsLinear*2, m.AccelerationRate, 0.0, false); err != nil {
		return err
	}

	actualPrimary, err := countStepsHome(ctx, m, log, true)
	if err != nil {
		return err
	}
	if actualPrimary != expectedSteps {
		m.AppendInfo(fmt.Sprintf("mismatch in expected vs measured steps during travel in primary axis: %d != %d (measured)", expectedSteps, actualPrimary))
	}
	m.AppendInfo(fmt.Sprintf("measured steps in primary axis: %d (expected: %d)", actualPrimary, expectedSteps))

	actualSecondary, err := countStepsHome(ctx, m, log, false)
	if err != nil {
		return err
	}
	if actualSecondary != expectedSteps {
		m.AppendInfo(fmt.Sprintf("mismatch in expected vs measured steps during travel in secondary axis: %d != %d (measured)", expectedSteps, actualSecondary))
	}
	m.AppendInfo(fmt.Sprintf("measured steps in secondary axis: %d (expected: %d)", actualSecondary, expectedSteps))

	if err := backOffLimits(ctx, m, log); err != nil {
		return err
	}
	return HomeCycle(ctx, m, log)
}

func countStepsHome(ctx context.Context, m *machine.Machine, log *zap.Logger, primary bool) (int, error) {
	ctrl, err := speedctrl.New(m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return 0, err
	}
	ctrl.Acquire()
	defer ctrl.Release()

	steps := 0
	for {
		home := m.IsPrimaryHome()
		if !primary {
			home = m.IsSecondaryHome()
		}
		if home {
			return steps, nil
		}
		if primary {
			if err := m.Stepper.StepPrimary(ctx, true); err != nil {
				return steps, err
			}
		} else {
			if err := m.Stepper.StepSecondary(ctx, true); err != nil {
				return steps, err
			}
		}
		ctrl.UpdateSpeed(math.Inf(1), 1.0)
		if err := ctrl.Control(ctx); err != nil {
			return steps, err
		}
		steps++
	}
}

func backOffLimits(ctx context.Context, m *machine.Machine, log *zap.Logger) error {
	ctrl, err := speedctrl.New(m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return err
	}
	ctrl.Acquire()
	defer ctrl.Release()

	for m.IsPrimaryLimit() || m.IsSecondaryLimit() {
		if m.IsPrimaryLimit() {
			if err := m.Stepper.StepPrimary(ctx, false); err != nil {
				return err
			}
		}
		if m.IsSecondaryLimit() {
			if err := m.Stepper.StepSecondary(ctx, false); err != nil {
				return err
			}
		}
		ctrl.UpdateSpeed(math.Inf(1), 1.0)
		if err := ctrl.Control(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MeasureWorkspace homes, drives both axes forward to their physical
// limits while counting steps, backs off, converts the counted steps back
// into drawing units through the machine's kinematic model, and assigns
// the result to the global boundary maximums.
func MeasureWorkspace(ctx context.Context, m *machine.Machine, log *zap.Logger) error {
	if err := HomeCycle(ctx, m, log); err != nil {
		return err
	}
	spr := float64(m.StepsPerRevolution)
	if err := m.MoveTo(ctx, spr, spr, m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, 0.0, true); err != nil {
		return err
	}

	actualPrimary := m.StepsPerRevolution
	actualSecondary := m.StepsPerRevolution

	advance, err := speedctrl.New(m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return err
	}
	advance.Acquire()
	for !m.IsPrimaryLimit() || !m.IsSecondaryLimit() {
		if !m.IsPrimaryLimit() {
			if err := m.Stepper.StepPrimary(ctx, false); err != nil {
				advance.Release()
				return err
			}
			actualPrimary++
		}
		if !m.IsSecondaryLimit() {
			if err := m.Stepper.StepSecondary(ctx, false); err != nil {
				advance.Release()
				return err
			}
			actualSecondary++
		}
		advance.UpdateSpeed(math.Inf(1), 1.0)
		if err := advance.Control(ctx); err != nil {
			advance.Release()
			return err
		}
	}
	advance.Release()

	retreat, err := speedctrl.New(m.StepDelayMsLinear, m.StepDelayMsInit, m.AccelerationRate, log)
	if err != nil {
		return err
	}
	retreat.Acquire()
	for m.IsPrimaryLimit() || m.IsSecondaryLimit() {
		if m.IsPrimaryLimit() {
			if err := m.Stepper.StepPrimary(ctx, true); err != nil {
				retreat.Release()
				return err
			}
			actualPrimary--
		}
		if m.IsSecondaryLimit() {
			if err := m.Stepper.StepSecondary(ctx, true); err != nil {
				retreat.Release()
				return err
			}
			actualSecondary--
		}
		retreat.UpdateSpeed(math.Inf(1), 1.0)
		if err := retreat.Control(ctx); err != nil {
			retreat.Release()
			return err
		}
	}
	retreat.Release()

	dimension := m.Model.CurrentPos(actualPrimary, actualSecondary)
	*m.GlobalBoundaries.XMax = dimension.X
	*m.GlobalBoundaries.YMax = dimension.Y

	m.AppendInfo(fmt.Sprintf("measured workspace dimension in primary axis: %vmm", dimension.X))
	m.AppendInfo(fmt.Sprintf("measured workspace dimension in secondary axis: %vmm", dimension.Y))

	return m.MoveTo(ctx, dimension.X/2, dimension.Y/2, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, true)
}

// MeasureFeedrate times, at both the rapid and linear step delays, a home
// followed by a primary-axis move to (x_max, 0) and a secondary-axis move to
// (x_max, y_max), recording each effective feedrate in mm/s to the
// diagnostic log.
func MeasureFeedrate(ctx context.Context, m *machine.Machine, log *zap.Logger) error {
	for _, delayMs := range []float64{m.StepDelayMsRapid, m.StepDelayMsLinear} {
		if err := HomeCycle(ctx, m, log); err != nil {
			return err
		}

		start := time.Now()
		if err := m.MoveTo(ctx, *m.GlobalBoundaries.XMax, 0, delayMs, delayMs*2, m.AccelerationRate, 0.0, true); err != nil {
			return err
		}
		elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
		m.AppendInfo(fmt.Sprintf("primary feedrate at %vms step delay: %.3fmm/s", delayMs, 1000*(*m.GlobalBoundaries.XMax)/elapsedMs))

		start = time.Now()
		if err := m.MoveTo(ctx, *m.GlobalBoundaries.XMax, *m.GlobalBoundaries.YMax, delayMs, delayMs*2, m.AccelerationRate, 0.0, true); err != nil {
			return err
		}
		elapsedMs = float64(time.Since(start)) / float64(time.Millisecond)
		m.AppendInfo(fmt.Sprintf("secondary feedrate at %vms step delay: %.3fmm/s", delayMs, 1000*(*m.GlobalBoundaries.YMax)/elapsedMs))
	}
	return HomeCycle(ctx, m, log)
}

// UnblockLimit nudges the named axis 1.5 units off an asserted limit
// switch. If the nudge clears both switches it re-homes; otherwise it
// returns to the saved position and logs the failure.
func UnblockLimit(ctx context.Context, m *machine.Machine, log *zap.Logger, axis byte, positive bool) error {
	if primary, secondary := m.LimitStatus(); !primary && !secondary {
		return nil
	}

	if err := m.RaiseTool(ctx); err != nil {
		return err
	}

	pos := m.Position()
	offset := 1.5
	if !positive {
		offset = -1.5
	}

	var err error
	switch axis {
	case 'X':
		err = m.MoveTo(ctx, pos.X+offset, pos.Y, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, false)
	case 'Y':
		err = m.MoveTo(ctx, pos.X, pos.Y+offset, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, false)
	default:
		err = &machine.ValueError{Msg: fmt.Sprintf("unknown axis %q", axis)}
	}
	if err != nil {
		return err
	}

	if primary, secondary := m.LimitStatus(); !primary && !secondary {
		return HomeCycle(ctx, m, log)
	}

	if err := m.MoveTo(ctx, pos.X, pos.Y, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, false); err != nil {
		return err
	}
	m.AppendInfo("failed to unblock limit switches")
	return nil
}

// EjectWorkspace raises the tool and parks it clear of the drawing area.
func EjectWorkspace(ctx context.Context, m *machine.Machine) error {
	if err := m.RaiseTool(ctx); err != nil {
		return err
	}
	return m.MoveTo(ctx, *m.GlobalBoundaries.XMax/2, *m.GlobalBoundaries.YMax-5, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, true)
}
