package machine

import (
	"context"
	"fmt"
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// MoveTo plans and executes a move to (x, y): boundary enforcement, a
// Bresenham-interleaved two-axis step sequence, and dual trapezoidal speed
// control, with only the dominant axis's controller driving the per-step
// sleep. junctionFactor softens deceleration at the end of the move when the
// dispatcher knows the next queued move continues in nearly the same
// direction. When safe is false, boundaries and limit switches are not
// checked — used by routines operating outside the normal work envelope
// (step-loss measurement, limit recovery).
func (m *Machine) MoveTo(ctx context.Context, x, y, targetDelayMs, initDelayMs, accelRate, junctionFactor float64, safe bool) error {
	if safe {
		g := m.GlobalBoundaries
		outGlobal := x < *g.XMin || y < *g.YMin || x > *g.XMax || y > *g.YMax

		ub := m.userBounds()
		outUser := ub.allSet() && (x < *ub.XMin || y < *ub.YMin || x > *ub.XMax || y > *ub.YMax)

		if outGlobal || outUser {
			if m.RejectOOB {
				return &OutOfBoundsError{Msg: fmt.Sprintf("position out of boundary: (%v,%v)", x, y)}
			}
			if ub.allSet() {
				x = clamp(x, *ub.XMin, *ub.XMax)
				y = clamp(y, *ub.YMin, *ub.YMax)
			} else {
				x = clamp(x, *g.XMin, *g.XMax)
				y = clamp(y, *g.YMin, *g.YMax)
			}
		}
	}

	dPrimary, dSecondary, err := m.Model.StepDifferential(m.Stepper.Primary.Position, m.Stepper.Secondary.Position, x, y)
	if err != nil {
		return err
	}
	if dPrimary == 0 && dSecondary == 0 {
		return nil
	}

	sxBackward, syBackward := dPrimary < 0, dSecondary < 0
	dx, dy := absInt(dPrimary), absInt(dSecondary)

	errTerm := dx - dy
	remainingX, remainingY := dx, dy
	xDominant := dx >= dy

	pc, sc := m.PrimaryController, m.SecondaryController
	pc.Acquire()
	defer pc.Release()
	sc.Acquire()
	defer sc.Release()

	if err := pc.Update(initDelayMs, targetDelayMs, accelRate); err != nil {
		return err
	}
	if err := sc.Update(initDelayMs, targetDelayMs, accelRate); err != nil {
		return err
	}

	for remainingX > 0 || remainingY > 0 {
		if safe && (m.IsPrimaryLimit() || m.IsSecondaryLimit()) {
			return &LimitSwitchFault{Msg: "limit switch triggered"}
		}

		e2 := 2 * errTerm

		if e2 > -dy && remainingX > 0 {
			if err := m.Stepper.StepPrimary(ctx, sxBackward); err != nil {
				return err
			}
			remainingX--
			errTerm -= dy
		}
		if e2 < dx && remainingY > 0 {
			if err := m.Stepper.StepSecondary(ctx, syBackward); err != nil {
				return err
			}
			remainingY--
			errTerm += dx
		}

		pc.UpdateSpeed(float64(remainingX), junctionFactor)
		sc.UpdateSpeed(float64(remainingY), junctionFactor)

		if xDominant {
			if err := pc.Control(ctx); err != nil {
				return err
			}
		} else {
			if err := sc.Control(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// MoveToDefault calls MoveTo with the machine's configured rapid delay,
// initial delay, acceleration rate, and no junction softening.
func (m *Machine) MoveToDefault(ctx context.Context, x, y float64, safe bool) error {
	return m.MoveTo(ctx, x, y, m.StepDelayMsRapid, m.StepDelayMsInit, m.AccelerationRate, 0.0, safe)
}
