package machine

import (
	"context"
	"fmt"

	"github.com/plotterfw/motioncore/internal/speedctrl"
)

// PositionPen drives the servo's PWM duty linearly toward the duty implied
// by target (0..100), one duty unit per step, each step scoped through a
// fresh, single-use SpeedController — unlike the two persistent per-axis
// controllers MoveTo reuses across calls.
func (m *Machine) PositionPen(ctx context.Context, target int) error {
	if target < 0 || target > 100 {
		return &ValueError{Msg: fmt.Sprintf("invalid target position: %d", target)}
	}

	targetDuty := m.MinPenDuty + int(float64(m.MaxPenDuty-m.MinPenDuty)*float64(target)/100.0)
	currentDuty := m.penDuty
	if currentDuty == targetDuty {
		return nil
	}

	ctrl, err := speedctrl.New(m.PenDelayMsTarget, m.PenDelayMsInit, m.PenAccelerationRate, m.log)
	if err != nil {
		return err
	}
	ctrl.Acquire()
	defer ctrl.Release()

	step := 1
	if currentDuty > targetDuty {
		step = -1
	}

	for duty := currentDuty; duty != targetDuty+step; duty += step {
		if err := m.gpio.PWMWrite(m.ServoPin, duty); err != nil {
			return err
		}
		m.penDuty = duty
		ctrl.UpdateSpeed(float64(targetDuty-duty), 1.0)
		if err := ctrl.Control(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RaiseTool, PrepareTool and LowerTool are the three named pen positions: up
// out of the way, mount height, and down at drawing pressure.
func (m *Machine) RaiseTool(ctx context.Context) error   { return m.PositionPen(ctx, 100) }
func (m *Machine) PrepareTool(ctx context.Context) error { return m.PositionPen(ctx, 50) }
func (m *Machine) LowerTool(ctx context.Context) error   { return m.PositionPen(ctx, 0) }
