package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. A pose named "AToB" maps
// coordinates expressed in frame A into frame B.
type Pose struct {
	Orientation quat.Number `json:"orientation" yaml:"orientation"`
	Point       r3.Vector   `json:"point" yaml:"point"`
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given rotation and translation. The rotation is normalized.
func NewPose(orientation quat.Number, point r3.Vector) Pose {
	return Pose{Orientation: QuatNormalize(orientation), Point: point}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{Orientation: quat.Number{Real: 1}, Point: point}
}

// Transform applies the pose to a point.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return RotateVector(p.Orientation, pt).Add(p.Point)
}

// Rotate applies only the rotational part of the pose to a direction.
func (p Pose) Rotate(v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation, v)
}

func (p Pose) String() string {
	aa := QuatToR4AA(p.Orientation)
	return fmt.Sprintf("{X:%.6f Y:%.6f Z:%.6f th:%.6f rx:%.4f ry:%.4f rz:%.4f}",
		p.Point.X, p.Point.Y, p.Point.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// Compose returns the pose a*b, i.e. b applied first, then a.
func Compose(a, b Pose) Pose {
	return Pose{
		Orientation: quat.Mul(a.Orientation, b.Orientation),
		Point:       a.Transform(b.Point),
	}
}

// PoseInverse returns the inverse of the pose.
func PoseInverse(p Pose) Pose {
	inv := QuatInverse(p.Orientation)
	return Pose{Orientation: inv, Point: RotateVector(inv, p.Point).Mul(-1)}
}

// PoseBetween returns the pose that takes a to b, i.e. a^-1 * b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostEqual returns whether two poses agree within the given translation and rotation (radians) tolerances.
func PoseAlmostEqual(a, b Pose, pointTol, angleTol float64) bool {
	return a.Point.Sub(b.Point).Norm() <= pointTol && QuatAngleBetween(a.Orientation, b.Orientation) <= angleTol
}
