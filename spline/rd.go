package spline

import (
	"github.com/golang/geo/r3"
)

// RdSpline is a uniform cubic B-spline over R^3.
type RdSpline struct {
	info  knotInfo
	knots []r3.Vector
}

// NewRdSpline returns a spline covering [start, end] with zero knots spaced dt apart.
func NewRdSpline(start, end, dt float64) *RdSpline {
	info := knotInfo{start: start, dt: dt, count: knotCount(start, end, dt)}
	return &RdSpline{info: info, knots: make([]r3.Vector, info.count)}
}

// MinTime is the first time the spline can be evaluated at.
func (s *RdSpline) MinTime() float64 { return s.info.minTime() }

// MaxTime is the last time the spline can be evaluated at.
func (s *RdSpline) MaxTime() float64 { return s.info.maxTime() }

// KnotTimeDist is the spacing between knots.
func (s *RdSpline) KnotTimeDist() float64 { return s.info.dt }

// TimeInRange reports whether t lies within [MinTime, MaxTime].
func (s *RdSpline) TimeInRange(t float64) bool { return s.info.inRange(t) }

// NumKnots returns the number of knots.
func (s *RdSpline) NumKnots() int { return len(s.knots) }

// Knot returns the i-th knot.
func (s *RdSpline) Knot(i int) r3.Vector { return s.knots[i] }

// SetKnot replaces the i-th knot.
func (s *RdSpline) SetKnot(i int, v r3.Vector) { s.knots[i] = v }

// Segment returns the index of the first of the Order knots influencing t and the normalized
// time within the segment. ok is false when t is out of range.
func (s *RdSpline) Segment(t float64) (idx int, u float64, ok bool) {
	if !s.info.inRange(t) {
		return 0, 0, false
	}
	idx, u = s.info.segment(t)
	return idx, u, true
}

// Evaluate returns the value at t.
func (s *RdSpline) Evaluate(t float64) (r3.Vector, bool) {
	return s.Derivative(t, 0)
}

// Velocity returns the first time derivative at t.
func (s *RdSpline) Velocity(t float64) (r3.Vector, bool) {
	return s.Derivative(t, 1)
}

// Acceleration returns the second time derivative at t.
func (s *RdSpline) Acceleration(t float64) (r3.Vector, bool) {
	return s.Derivative(t, 2)
}

// Derivative returns the given order time derivative at t.
func (s *RdSpline) Derivative(t float64, order int) (r3.Vector, bool) {
	idx, u, ok := s.Segment(t)
	if !ok {
		return r3.Vector{}, false
	}
	var knots [Order]r3.Vector
	copy(knots[:], s.knots[idx:idx+Order])
	return EvaluateRd(knots, u, s.info.dt, order), true
}

// EvaluateRd evaluates the given order derivative of one segment.
func EvaluateRd(knots [Order]r3.Vector, u, dt float64, order int) r3.Vector {
	w := weights(&basis, u, order)
	var res r3.Vector
	for j := 0; j < Order; j++ {
		res = res.Add(knots[j].Mul(w[j]))
	}
	scale := 1.0
	for i := 0; i < order; i++ {
		scale /= dt
	}
	return res.Mul(scale)
}
