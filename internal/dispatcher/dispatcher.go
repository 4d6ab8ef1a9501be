// Package dispatcher implements the plotter's control loop: it dequeues
// G-code one line at a time, classifies it, transforms coordinates through
// the active work coordinate system and scaling factor, invokes the motion
// planner or a canned routine, and enforces idle-timeout deenergization,
// pause semantics, and limit-switch fault termination. It is the only
// consumer of Machine's command queue; HTTP handlers and the sketch reader
// are producers that never block it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/plotterfw/motioncore/internal/gcode"
	"github.com/plotterfw/motioncore/internal/kinematics"
	"github.com/plotterfw/motioncore/internal/machine"
	"github.com/plotterfw/motioncore/internal/routines"
	"go.uber.org/zap"
)

// Session is implemented by a running file-playback session (internal/sketch).
// The dispatcher only needs to be able to cancel one on idle timeout; it does
// not import internal/sketch, which in turn enqueues into Machine — keeping
// this interface here avoids a cycle between the two packages.
type Session interface {
	Cancel()
}

// Dispatcher owns the control loop for one Machine.
type Dispatcher struct {
	m      *machine.Machine
	log    *zap.Logger
	period time.Duration

	mu      sync.Mutex
	session Session
}

// New builds a Dispatcher. A period of zero uses the plotter's default
// 10ms tick.
func New(m *machine.Machine, log *zap.Logger, period time.Duration) *Dispatcher {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &Dispatcher{m: m, log: log, period: period}
}

// AttachSession registers the currently in-progress file-playback session,
// so an idle timeout or the HTTP stop callback can cancel it.
func (d *Dispatcher) AttachSession(s Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = s
}

// DetachSession clears the session if it is still the one registered,
// called by the session's own goroutine when it finishes normally.
func (d *Dispatcher) DetachSession(s Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == s {
		d.session = nil
	}
}

// HasSession reports whether a file-playback session is in progress, backing
// the "busy" rejection on plotter/gcode and plotter/play.
func (d *Dispatcher) HasSession() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

// CancelSession cancels and detaches any in-progress session. Safe to call
// with none in progress.
func (d *Dispatcher) CancelSession() {
	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Run is the control task: it homes once on entry, then loops forever,
// dequeuing and executing one command per tick, until a limit-switch fault
// terminates it (coils deenergized, error returned) or ctx is canceled. A
// limit switch already asserted at startup is logged and does not prevent
// the loop from starting, matching §4.8's "not terminal for the startup
// home" carve-out.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := routines.HomeCycle(ctx, d.m, d.log); err != nil {
		var fault *machine.LimitSwitchFault
		if errors.As(err, &fault) {
			d.log.Warn("startup home cycle faulted", zap.Error(err))
			d.m.AppendInfo(err.Error())
		} else {
			return fmt.Errorf("startup home cycle: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.m.Activated() && time.Since(d.m.LastCommandTs) > d.m.ActiveTimeout {
			if err := d.m.Stepper.Deactivate(); err != nil {
				d.log.Error("deactivate coils on idle timeout", zap.Error(err))
			}
			if !d.m.Paused() {
				d.CancelSession()
			}
		}

		switch {
		case d.m.Paused():
			if err := d.m.RaiseTool(ctx); err != nil {
				d.log.Error("raise tool while paused", zap.Error(err))
				d.m.AppendInfo(err.Error())
			}
		default:
			if line, ok := d.m.Dequeue(); ok {
				if !d.m.Activated() {
					if err := d.m.Stepper.Activate(); err != nil {
						d.log.Error("activate coils", zap.Error(err))
					}
				}
				d.m.LastCommandTs = time.Now()

				if err := d.RunCommand(ctx, line); err != nil {
					var fault *machine.LimitSwitchFault
					if errors.As(err, &fault) {
						d.log.Error("limit switch fault, dispatcher exiting", zap.Error(err))
						d.m.AppendInfo(err.Error())
						_ = d.m.Stepper.Deactivate()
						return err
					}
					d.log.Error("command error", zap.String("command", line), zap.Error(err))
					d.m.AppendInfo(err.Error())
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.period):
		}
	}
}

// RunCommand parses and executes a single line. An unrecognized line is
// logged and ignored rather than treated as an error, per §4.7.
func (d *Dispatcher) RunCommand(ctx context.Context, line string) error {
	cmd, err := gcode.Parse(line)
	if err != nil {
		d.log.Warn(err.Error())
		return nil
	}
	return d.dispatch(ctx, cmd)
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd gcode.Command) error {
	switch c := cmd.(type) {
	case gcode.Positioning:
		d.m.SetAbsolute(c.Absolute)
		if c.Motion == nil {
			return nil
		}
		return d.runMotion(ctx, *c.Motion)
	case gcode.Motion:
		return d.runMotion(ctx, c)
	case gcode.Homing:
		return routines.HomeCycle(ctx, d.m, d.log)
	case gcode.ToolChange:
		if err := d.m.PrepareTool(ctx); err != nil {
			return err
		}
		d.m.SetPaused(true)
		return nil
	case gcode.MeasureWorkspace:
		return routines.MeasureWorkspace(ctx, d.m, d.log)
	case gcode.MeasureStepLoss:
		return routines.MeasureStepLoss(ctx, d.m, d.log)
	case gcode.MeasureFeedrate:
		return routines.MeasureFeedrate(ctx, d.m, d.log)
	case gcode.UnblockLimit:
		return routines.UnblockLimit(ctx, d.m, d.log, c.Axis, c.Positive)
	case gcode.EjectWorkspace:
		return routines.EjectWorkspace(ctx, d.m)
	case gcode.WCSSet:
		return d.m.SetCSOffset(c.CS, c.X, c.Y)
	case gcode.CSSelect:
		return d.m.SelectCS(c.CS)
	case gcode.Scaling:
		if c.Enabled {
			d.m.SetCSScaling(c.Factor)
		} else {
			d.m.SetCSScaling(1.0)
		}
		return nil
	default:
		return fmt.Errorf("unhandled command type %T", cmd)
	}
}

// runMotion raises or lowers the tool per the motion's rapid/linear mode,
// computes a junction factor from the next queued command, applies the
// active work coordinate system offset and scaling, and hands off to the
// planner.
func (d *Dispatcher) runMotion(ctx context.Context, motion gcode.Motion) error {
	delay := d.m.StepDelayMsLinear
	if motion.Rapid {
		delay = d.m.StepDelayMsRapid
		if err := d.m.RaiseTool(ctx); err != nil {
			return err
		}
	} else if err := d.m.LowerTool(ctx); err != nil {
		return err
	}

	current := d.m.Position()
	absolute := d.m.Absolute()
	junction := d.junctionFactor(current, absolute, motion)

	offset := d.m.CSOffset(d.m.CurrentCS())
	scale := d.m.CSScaling()

	var tx, ty float64
	if absolute {
		tx = offset.X + motion.X*scale
		ty = offset.Y + motion.Y*scale
	} else {
		tx = current.X + motion.X*scale
		ty = current.Y + motion.Y*scale
	}

	return d.m.MoveTo(ctx, tx, ty, delay, d.m.StepDelayMsInit, d.m.AccelerationRate, junction, true)
}

// junctionFactor peeks the next queued command without dequeuing it: if it
// is not a motion command, or its rapid/linear mode differs from this
// move's, deceleration is full (factor 0); otherwise the factor is the
// cosine similarity between this move's direction and the next move's,
// floored at 0. Per §9(a) this assumes the next command is in the same
// positioning mode as the current one — an intervening G90/G91 between
// queued moves is not accounted for.
func (d *Dispatcher) junctionFactor(current kinematics.Point, absolute bool, motion gcode.Motion) float64 {
	line, ok := d.m.PeekNext()
	if !ok {
		return 0
	}
	next, err := gcode.Parse(line)
	if err != nil {
		return 0
	}

	var nextMotion *gcode.Motion
	switch c := next.(type) {
	case gcode.Motion:
		nextMotion = &c
	case gcode.Positioning:
		nextMotion = c.Motion
	}
	if nextMotion == nil || nextMotion.Rapid != motion.Rapid {
		return 0
	}

	var target, nextTarget kinematics.Point
	if absolute {
		target = kinematics.Point{X: motion.X, Y: motion.Y}
		nextTarget = kinematics.Point{X: nextMotion.X, Y: nextMotion.Y}
	} else {
		target = kinematics.Point{X: current.X + motion.X, Y: current.Y + motion.Y}
		nextTarget = kinematics.Point{X: target.X + nextMotion.X, Y: target.Y + nextMotion.Y}
	}

	return math.Max(0, kinematics.CosineSimilarity(current, target, nextTarget))
}
