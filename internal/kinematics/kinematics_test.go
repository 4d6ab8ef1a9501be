package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartesianToPolar(t *testing.T) {
	p := CartesianToPolar(3, 4)
	assert.InDelta(t, 5.0, p.R, 1e-9)
	assert.InDelta(t, math.Atan2(4, 3), p.Theta, 1e-9)
}

func TestPolarToCartesianRoundTrip(t *testing.T) {
	p := CartesianToPolar(10, -7)
	back := PolarToCartesian(p)
	assert.InDelta(t, 10.0, back.X, 1e-9)
	assert.InDelta(t, -7.0, back.Y, 1e-9)
}

func TestRotateQuarterTurn(t *testing.T) {
	x, y := Rotate(1, 0, math.Pi/2)
	assert.InDelta(t, 0.0, x, 1e-9)
	assert.InDelta(t, 1.0, y, 1e-9)
}

func TestSteps(t *testing.T) {
	assert.Equal(t, 50, Steps(90, 200))
	assert.Equal(t, -50, Steps(-90, 200))
}

func TestCosineSimilarityDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(Point{0, 0}, Point{0, 0}, Point{1, 1}))
}

func TestCosineSimilarityStraightLine(t *testing.T) {
	sim := CosineSimilarity(Point{0, 0}, Point{1, 0}, Point{2, 0})
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityRightAngle(t *testing.T) {
	sim := CosineSimilarity(Point{0, 0}, Point{1, 0}, Point{1, 1})
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestResolveArmAnglesSymmetric(t *testing.T) {
	primary := Polar{R: 100, Theta: 0}
	secondary := Polar{R: 100, Theta: 0}

	// 150 = 2*100*cos(a): the primary arm opens by a = acos(0.75) and the
	// secondary folds back by 2a, an isosceles elbow.
	primaryDeg, secondaryDeg, err := ResolveArmAngles(150, 0, primary, secondary)
	require.NoError(t, err)
	assert.InDelta(t, 41.40962210927086, primaryDeg, 1e-6)
	assert.InDelta(t, -82.81924421854173, secondaryDeg, 1e-6)
}

func TestResolveArmAnglesZeroRadius(t *testing.T) {
	primary := Polar{R: 100, Theta: 0}
	secondary := Polar{R: 100, Theta: 0}

	_, _, err := ResolveArmAngles(0, 0, primary, secondary)
	require.Error(t, err)
	var kerr *KinematicsError
	require.ErrorAs(t, err, &kerr)
}

func TestResolveArmAnglesWithinHalfTurn(t *testing.T) {
	primary := Polar{R: 80, Theta: math.Pi / 6}
	secondary := Polar{R: 60, Theta: 0}

	primaryDeg, secondaryDeg, err := ResolveArmAngles(90, 20, primary, secondary)
	require.NoError(t, err)
	assert.LessOrEqual(t, math.Abs(primaryDeg), 180.0)
	assert.LessOrEqual(t, math.Abs(secondaryDeg), 180.0)
}
