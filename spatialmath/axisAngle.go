package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// R4AA is a rotation of Theta radians about the unit axis (RX, RY, RZ). It is the form poses are
// printed in.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// ToR3 returns the rotation vector, the axis scaled by the angle.
func (r4 R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}.Normalize().Mul(r4.Theta)
}

// ToQuat returns the unit quaternion of the rotation. A zero axis is treated as no rotation.
func (r4 R4AA) ToQuat() quat.Number {
	if r4.Theta == 0 || (r4.RX == 0 && r4.RY == 0 && r4.RZ == 0) {
		return quat.Number{Real: 1}
	}
	return ExpSO3(r4.ToR3())
}

// QuatToR4AA returns the axis angle of q with Theta in [0, pi]. The identity maps to the x axis.
func QuatToR4AA(q quat.Number) R4AA {
	omega := LogSO3(q)
	theta := omega.Norm()
	if theta < smallAngle {
		return R4AA{Theta: theta, RX: 1}
	}
	axis := omega.Mul(1 / theta)
	return R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
}
