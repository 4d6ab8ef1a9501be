// Package kinematics holds the pure coordinate math shared by Cartesian and
// SCARA machine models: polar conversion, rotation, step conversion, and the
// two-link inverse kinematics solver. Nothing here touches machine state or
// GPIO; every function is total except ResolveArmAngles.
package kinematics

import (
	"fmt"
	"math"
)

// Point is a Cartesian coordinate.
type Point struct {
	X, Y float64
}

// Polar is a polar coordinate, angle in radians.
type Polar struct {
	R, Theta float64
}

// KinematicsError marks a singular inverse-kinematics configuration (zero
// reach radius). The dispatcher logs and continues rather than treating it
// as fatal.
type KinematicsError struct {
	Msg string
}

func (e *KinematicsError) Error() string { return e.Msg }

// CartesianToPolar converts (x,y) to (r, theta) via atan2.
func CartesianToPolar(x, y float64) Polar {
	return Polar{R: math.Hypot(x, y), Theta: math.Atan2(y, x)}
}

// PolarToCartesian converts (r, theta) back to Cartesian.
func PolarToCartesian(p Polar) Point {
	return Point{X: math.Cos(p.Theta) * p.R, Y: math.Sin(p.Theta) * p.R}
}

// Rotate applies a standard 2-D rotation by phi radians.
func Rotate(x, y, phi float64) (float64, float64) {
	return math.Cos(phi)*x - math.Sin(phi)*y, math.Sin(phi)*x + math.Cos(phi)*y
}

// Steps truncates an angle in degrees to a motor step count.
func Steps(angleDeg float64, stepsPerRevolution int) int {
	return int((angleDeg / 360.0) * float64(stepsPerRevolution))
}

// CosineSimilarity returns the cosine of the angle between the vectors
// p1-p0 and p2-p1, in [-1,1], or 0 when either vector is degenerate (no
// movement). Used by the G-code runner to compute junction factors between
// consecutive moves.
func CosineSimilarity(p0, p1, p2 Point) float64 {
	v1 := Point{p1.X - p0.X, p1.Y - p0.Y}
	v2 := Point{p2.X - p1.X, p2.Y - p1.Y}

	n1 := math.Hypot(v1.X, v1.Y)
	n2 := math.Hypot(v2.X, v2.Y)
	if n1 == 0 || n2 == 0 {
		return 0.0
	}
	return (v1.X*v2.X + v1.Y*v2.Y) / (n1 * n2)
}

// ResolveArmAngles is the two-link planar inverse kinematics solver for
// SCARA machines: given a target Cartesian point and the polar arm lengths
// of the primary and secondary links, returns the relative angle each arm
// must rotate by, in degrees.
func ResolveArmAngles(x, y float64, primary, secondary Polar) (primaryDeg, secondaryDeg float64, err error) {
	target := CartesianToPolar(x, y)

	a := 2*math.Cos(target.Theta)*math.Cos(primary.Theta) + 2*math.Sin(target.Theta)*math.Sin(primary.Theta)
	b := 2*math.Sin(target.Theta)*math.Cos(primary.Theta) - 2*math.Cos(target.Theta)*math.Sin(primary.Theta)
	c := (primary.R*primary.R - secondary.R*secondary.R + target.R*target.R) / (target.R * primary.R)
	r := math.Hypot(a, b)

	if r == 0 || target.R == 0 {
		return 0, 0, &KinematicsError{Msg: fmt.Sprintf("cannot resolve arm angles for (%.3f, %.3f): zero radius", x, y)}
	}

	if math.Abs(c/r) > 1 {
		c = math.Copysign(r, c)
	}

	phi := math.Atan2(b, a)
	acosCR := math.Acos(c / r)
	angle1 := wrap2Pi(phi + acosCR)
	angle2 := wrap2Pi(phi - acosCR)

	angle1 = wrapPi(angle1)
	angle2 = wrapPi(angle2)

	anglePrimary := angle1
	if math.Abs(angle2) < math.Abs(angle1) {
		anglePrimary = angle2
	}

	a1Abs := primary.Theta + anglePrimary
	d := (math.Cos(target.Theta)*target.R - math.Cos(a1Abs)*primary.R) / secondary.R
	e := (math.Sin(target.Theta)*target.R - math.Sin(a1Abs)*primary.R) / secondary.R
	angleSecondary := math.Atan2(-math.Sin(a1Abs)*d+math.Cos(a1Abs)*e, math.Cos(a1Abs)*d+math.Sin(a1Abs)*e) - secondary.Theta
	angleSecondary = wrap2Pi(angleSecondary)
	angleSecondary = wrapPi(angleSecondary)

	return 180 * anglePrimary / math.Pi, 180 * angleSecondary / math.Pi, nil
}

// wrap2Pi mirrors Python's `% (2*pi)`, which always returns a non-negative
// result for a positive modulus, unlike Go's Mod which preserves sign.
func wrap2Pi(angle float64) float64 {
	m := math.Mod(angle, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	return m
}

func wrapPi(angle float64) float64 {
	if angle > math.Pi {
		return angle - 2*math.Pi
	}
	return angle
}
