package spline

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/spatialmath"
)

// ErrTimeOutOfRange is returned when a query time lies outside the support of a spline.
var ErrTimeOutOfRange = errors.New("time is out of the spline range")

// ScaleType tags what the scale spline of a Bundle represents.
type ScaleType int

const (
	// LinAcce means the scale spline holds linear acceleration; used when only IMUs are present.
	LinAcce ScaleType = iota
	// LinVel means the scale spline holds linear velocity; used when radars but no LiDAR or camera are present.
	LinVel
	// LinPos means the scale spline holds position; used when a LiDAR or camera is present.
	LinPos
)

func (st ScaleType) String() string {
	switch st {
	case LinAcce:
		return "LIN_ACCE_SPLINE"
	case LinVel:
		return "LIN_VEL_SPLINE"
	case LinPos:
		return "LIN_POS_SPLINE"
	}
	return fmt.Sprintf("ScaleType(%d)", int(st))
}

// VelocityOrder is the derivative order of the scale spline that yields linear velocity. ok is
// false when velocity cannot be recovered.
func (st ScaleType) VelocityOrder() (order int, ok bool) {
	switch st {
	case LinPos:
		return 1, true
	case LinVel:
		return 0, true
	case LinAcce:
	}
	return 0, false
}

// AccelerationOrder is the derivative order of the scale spline that yields linear acceleration.
func (st ScaleType) AccelerationOrder() int {
	switch st {
	case LinPos:
		return 2
	case LinVel:
		return 1
	case LinAcce:
	}
	return 0
}

// ScaleTypeFor selects the scale spline variant for a sensor suite.
func ScaleTypeFor(hasLiDAR, hasCamera, hasRadar bool) ScaleType {
	switch {
	case hasLiDAR || hasCamera:
		return LinPos
	case hasRadar:
		return LinVel
	default:
		return LinAcce
	}
}

// Bundle is the continuous-time trajectory: a rotation spline and a scale spline over the same
// time domain, possibly with different knot spacings.
type Bundle struct {
	so3       *SO3Spline
	scale     *RdSpline
	scaleType ScaleType
}

// Create builds a bundle covering [start, end] with identity rotation knots and zero scale knots.
func Create(start, end, so3Dt, scaleDt float64, scaleType ScaleType) (*Bundle, error) {
	if end < start {
		return nil, errors.Errorf("spline end time %f is before start time %f", end, start)
	}
	if so3Dt <= 0 || scaleDt <= 0 {
		return nil, errors.Errorf("knot time distances must be positive, got so3 %f, scale %f", so3Dt, scaleDt)
	}
	return &Bundle{
		so3:       NewSO3Spline(start, end, so3Dt),
		scale:     NewRdSpline(start, end, scaleDt),
		scaleType: scaleType,
	}, nil
}

// SO3 returns the rotation spline.
func (b *Bundle) SO3() *SO3Spline { return b.so3 }

// Scale returns the scale spline.
func (b *Bundle) Scale() *RdSpline { return b.scale }

// ScaleType returns what the scale spline represents.
func (b *Bundle) ScaleType() ScaleType { return b.scaleType }

// MinTime is the first time both splines can be evaluated at.
func (b *Bundle) MinTime() float64 {
	return max(b.so3.MinTime(), b.scale.MinTime())
}

// MaxTime is the last time both splines can be evaluated at.
func (b *Bundle) MaxTime() float64 {
	return min(b.so3.MaxTime(), b.scale.MaxTime())
}

// TimeInRange reports whether both splines can be evaluated at t.
func (b *Bundle) TimeInRange(t float64) bool {
	return b.so3.TimeInRange(t) && b.scale.TimeInRange(t)
}

// EvaluateRotation returns the body to reference rotation at t.
func (b *Bundle) EvaluateRotation(t float64) (quat.Number, bool) {
	return b.so3.Evaluate(t)
}

// EvaluateScale returns the scale spline value at t.
func (b *Bundle) EvaluateScale(t float64) (r3.Vector, bool) {
	return b.scale.Evaluate(t)
}

// LinearVelocity returns the reference frame velocity of the body at t when the scale type allows it.
func (b *Bundle) LinearVelocity(t float64) (r3.Vector, bool) {
	order, ok := b.scaleType.VelocityOrder()
	if !ok {
		return r3.Vector{}, false
	}
	return b.scale.Derivative(t, order)
}

// LinearAcceleration returns the reference frame acceleration of the body at t.
func (b *Bundle) LinearAcceleration(t float64) (r3.Vector, bool) {
	return b.scale.Derivative(t, b.scaleType.AccelerationOrder())
}

// AlignToGravity re-expresses the whole trajectory in a world frame whose negative z axis is
// aligned with gravity and returns the gravity vector in that frame. The world heading follows
// the body orientation at the first knot time.
func (b *Bundle) AlignToGravity(gravity r3.Vector) r3.Vector {
	first, _ := b.so3.Evaluate(b.so3.MinTime())
	refToWorld := spatialmath.GravityAlignedRotation(first, gravity)
	for i := 0; i < b.so3.NumKnots(); i++ {
		b.so3.SetKnot(i, quat.Mul(refToWorld, b.so3.Knot(i)))
	}
	// rotation commutes with scaling, so this holds for position, velocity and acceleration alike.
	for i := 0; i < b.scale.NumKnots(); i++ {
		b.scale.SetKnot(i, spatialmath.RotateVector(refToWorld, b.scale.Knot(i)))
	}
	return spatialmath.RotateVector(refToWorld, gravity)
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	so3 := &SO3Spline{info: b.so3.info, knots: append([]quat.Number(nil), b.so3.knots...)}
	scale := &RdSpline{info: b.scale.info, knots: append([]r3.Vector(nil), b.scale.knots...)}
	return &Bundle{so3: so3, scale: scale, scaleType: b.scaleType}
}
