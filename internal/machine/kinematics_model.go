package machine

import (
	"math"

	"github.com/plotterfw/motioncore/internal/kinematics"
)

// KinematicModel is the capability interface that lets Machine and the
// planner stay generic over Cartesian and SCARA geometry: the two machine
// types differ only in how a step position maps to a drawing-unit position
// and back.
type KinematicModel interface {
	// CurrentPos returns the tool position in drawing units implied by the
	// given primary/secondary step counts.
	CurrentPos(primarySteps, secondarySteps int) kinematics.Point
	// StepDifferential returns the per-axis step delta required to move from
	// the position implied by the given step counts to (x, y).
	StepDifferential(primarySteps, secondarySteps int, x, y float64) (dPrimary, dSecondary int, err error)
}

// CartesianModel maps step counts to drawing units linearly, via a shared
// units-per-revolution scale on both axes.
type CartesianModel struct {
	UnitPerRevolution  float64
	StepsPerRevolution int
}

func (c CartesianModel) axisUnits(steps int) float64 {
	return (float64(steps) / float64(c.StepsPerRevolution)) * c.UnitPerRevolution
}

func (c CartesianModel) CurrentPos(primarySteps, secondarySteps int) kinematics.Point {
	return kinematics.Point{X: c.axisUnits(primarySteps), Y: c.axisUnits(secondarySteps)}
}

func (c CartesianModel) StepDifferential(primarySteps, secondarySteps int, x, y float64) (int, int, error) {
	cur := c.CurrentPos(primarySteps, secondarySteps)
	dPrimary := int(((x - cur.X) / c.UnitPerRevolution) * float64(c.StepsPerRevolution))
	dSecondary := int(((y - cur.Y) / c.UnitPerRevolution) * float64(c.StepsPerRevolution))
	return dPrimary, dSecondary, nil
}

// ScaraModel is the two-link arm geometry: each axis's step count is an arm
// angle, and forward/inverse kinematics route through the kinematics
// package's polar helpers.
type ScaraModel struct {
	RadiusPrimary, RadiusSecondary float64
	StepsPerRevolution             int
}

func (s ScaraModel) primaryPolar(steps int) kinematics.Polar {
	return kinematics.Polar{R: s.RadiusPrimary, Theta: 2 * math.Pi * (float64(steps) / float64(s.StepsPerRevolution))}
}

func (s ScaraModel) secondaryPolar(steps int) kinematics.Polar {
	return kinematics.Polar{R: s.RadiusSecondary, Theta: 2 * math.Pi * (float64(steps) / float64(s.StepsPerRevolution))}
}

func (s ScaraModel) CurrentPos(primarySteps, secondarySteps int) kinematics.Point {
	primaryPolar := s.primaryPolar(primarySteps)
	secondaryPolar := s.secondaryPolar(secondarySteps)

	primaryPos := kinematics.PolarToCartesian(primaryPolar)
	secondaryPos := kinematics.PolarToCartesian(secondaryPolar)
	rx, ry := kinematics.Rotate(secondaryPos.X, secondaryPos.Y, primaryPolar.Theta)

	return kinematics.Point{X: primaryPos.X + rx, Y: primaryPos.Y + ry}
}

func (s ScaraModel) StepDifferential(primarySteps, secondarySteps int, x, y float64) (int, int, error) {
	primaryPolar := s.primaryPolar(primarySteps)
	secondaryPolar := s.secondaryPolar(secondarySteps)

	anglePrimary, angleSecondary, err := kinematics.ResolveArmAngles(x, y, primaryPolar, secondaryPolar)
	if err != nil {
		return 0, 0, err
	}

	return kinematics.Steps(anglePrimary, s.StepsPerRevolution), kinematics.Steps(angleSecondary, s.StepsPerRevolution), nil
}
