package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToAngVel calculates a body frame angular velocity (rad/s) from an orientation change
// expressed as a quaternion over a time difference.
func QuatToAngVel(diffQ quat.Number, dt float64) r3.Vector {
	return LogSO3(diffQ).Mul(1 / dt)
}

// FiniteAngVel estimates the body frame angular velocity between two orientations sampled dt apart.
func FiniteAngVel(from, to quat.Number, dt float64) r3.Vector {
	return QuatToAngVel(quat.Mul(QuatInverse(from), to), dt)
}
