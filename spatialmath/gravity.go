package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// GravityAlignedRotation returns the rotation from the reference frame to a world frame whose
// negative z axis points along gravity. The world x axis follows the body x axis of
// `firstBodyToRef` projected onto the horizontal plane, so heading at the start is kept.
func GravityAlignedRotation(firstBodyToRef quat.Number, gravityInRef r3.Vector) quat.Number {
	if gravityInRef.Norm() == 0 {
		return quat.Number{Real: 1}
	}
	zAxis := gravityInRef.Normalize().Mul(-1)

	xAxis := horizontal(RotateVector(firstBodyToRef, r3.Vector{X: 1}), zAxis)
	if xAxis.Norm() < 1e-6 {
		// body x is vertical; fall back to body y.
		xAxis = horizontal(RotateVector(firstBodyToRef, r3.Vector{Y: 1}), zAxis)
	}
	xAxis = xAxis.Normalize()
	yAxis := zAxis.Cross(xAxis).Normalize()

	// columns are the world axes expressed in the reference frame.
	worldToRef := [9]float64{
		xAxis.X, yAxis.X, zAxis.X,
		xAxis.Y, yAxis.Y, zAxis.Y,
		xAxis.Z, yAxis.Z, zAxis.Z,
	}
	return QuatInverse(RotationMatrixToQuat(worldToRef))
}

func horizontal(v, up r3.Vector) r3.Vector {
	return v.Sub(up.Mul(v.Dot(up)))
}
