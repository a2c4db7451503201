package spline

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/spatialmath"
)

// SO3Spline is a uniform cumulative cubic B-spline over rotations. Knots are unit quaternions
// mapping the body frame into the reference frame.
type SO3Spline struct {
	info  knotInfo
	knots []quat.Number
}

// NewSO3Spline returns a spline covering [start, end] with identity knots spaced dt apart.
func NewSO3Spline(start, end, dt float64) *SO3Spline {
	info := knotInfo{start: start, dt: dt, count: knotCount(start, end, dt)}
	knots := make([]quat.Number, info.count)
	for i := range knots {
		knots[i] = quat.Number{Real: 1}
	}
	return &SO3Spline{info: info, knots: knots}
}

// MinTime is the first time the spline can be evaluated at.
func (s *SO3Spline) MinTime() float64 { return s.info.minTime() }

// MaxTime is the last time the spline can be evaluated at.
func (s *SO3Spline) MaxTime() float64 { return s.info.maxTime() }

// KnotTimeDist is the spacing between knots.
func (s *SO3Spline) KnotTimeDist() float64 { return s.info.dt }

// TimeInRange reports whether t lies within [MinTime, MaxTime].
func (s *SO3Spline) TimeInRange(t float64) bool { return s.info.inRange(t) }

// NumKnots returns the number of knots.
func (s *SO3Spline) NumKnots() int { return len(s.knots) }

// Knot returns the i-th knot.
func (s *SO3Spline) Knot(i int) quat.Number { return s.knots[i] }

// SetKnot replaces the i-th knot.
func (s *SO3Spline) SetKnot(i int, q quat.Number) { s.knots[i] = spatialmath.QuatNormalize(q) }

// Segment returns the index of the first of the Order knots influencing t and the normalized
// time within the segment. ok is false when t is out of range.
func (s *SO3Spline) Segment(t float64) (idx int, u float64, ok bool) {
	if !s.info.inRange(t) {
		return 0, 0, false
	}
	idx, u = s.info.segment(t)
	return idx, u, true
}

// Evaluate returns the rotation at t.
func (s *SO3Spline) Evaluate(t float64) (quat.Number, bool) {
	idx, u, ok := s.Segment(t)
	if !ok {
		return quat.Number{}, false
	}
	return EvaluateSO3(s.segmentKnots(idx), u), true
}

// AngularVelocity returns the body frame angular velocity (rad/s) at t.
func (s *SO3Spline) AngularVelocity(t float64) (r3.Vector, bool) {
	idx, u, ok := s.Segment(t)
	if !ok {
		return r3.Vector{}, false
	}
	return AngularVelocitySO3(s.segmentKnots(idx), u, s.info.dt), true
}

func (s *SO3Spline) segmentKnots(idx int) [Order]quat.Number {
	var knots [Order]quat.Number
	copy(knots[:], s.knots[idx:idx+Order])
	return knots
}

// EvaluateSO3 evaluates one segment given its knots and normalized time u in [0, 1].
func EvaluateSO3(knots [Order]quat.Number, u float64) quat.Number {
	w := weights(&cumulativeBasis, u, 0)
	res := knots[0]
	for j := 1; j < Order; j++ {
		delta := spatialmath.LogSO3(quat.Mul(spatialmath.QuatInverse(knots[j-1]), knots[j]))
		res = quat.Mul(res, spatialmath.ExpSO3(delta.Mul(w[j])))
	}
	return spatialmath.QuatNormalize(res)
}

// AngularVelocitySO3 evaluates the body frame angular velocity of one segment.
func AngularVelocitySO3(knots [Order]quat.Number, u, dt float64) r3.Vector {
	w := weights(&cumulativeBasis, u, 0)
	dw := weights(&cumulativeBasis, u, 1)
	var omega r3.Vector
	for j := 1; j < Order; j++ {
		delta := spatialmath.LogSO3(quat.Mul(spatialmath.QuatInverse(knots[j-1]), knots[j]))
		a := spatialmath.ExpSO3(delta.Mul(w[j]))
		omega = spatialmath.RotateVector(spatialmath.QuatInverse(a), omega).Add(delta.Mul(dw[j]))
	}
	return omega.Mul(1 / dt)
}
