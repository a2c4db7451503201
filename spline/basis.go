// Package spline implements uniform cumulative cubic B-splines over SO(3) and R^3, and the
// trajectory bundle pairing one of each over a shared time domain.
package spline

import (
	"math"
)

// Order is the number of knots that influence any segment.
const Order = 4

// cumulativeBasis is the cumulative cubic B-spline matrix; row j gives the coefficients of
// 1, u, u^2, u^3 for the cumulative weight of knot j within a segment.
var cumulativeBasis = [Order][Order]float64{
	{6.0 / 6, 0, 0, 0},
	{5.0 / 6, 3.0 / 6, -3.0 / 6, 1.0 / 6},
	{1.0 / 6, 3.0 / 6, 3.0 / 6, -2.0 / 6},
	{0, 0, 0, 1.0 / 6},
}

// basis is the standard (non cumulative) uniform cubic B-spline matrix.
var basis = [Order][Order]float64{
	{1.0 / 6, -3.0 / 6, 3.0 / 6, -1.0 / 6},
	{4.0 / 6, 0, -6.0 / 6, 3.0 / 6},
	{1.0 / 6, 3.0 / 6, 3.0 / 6, -3.0 / 6},
	{0, 0, 0, 1.0 / 6},
}

// powers returns the derivative of [1, u, u^2, u^3] of the given order with respect to u.
func powers(u float64, derivative int) [Order]float64 {
	switch derivative {
	case 0:
		return [Order]float64{1, u, u * u, u * u * u}
	case 1:
		return [Order]float64{0, 1, 2 * u, 3 * u * u}
	case 2:
		return [Order]float64{0, 0, 2, 6 * u}
	case 3:
		return [Order]float64{0, 0, 0, 6}
	default:
		return [Order]float64{}
	}
}

func weights(m *[Order][Order]float64, u float64, derivative int) [Order]float64 {
	p := powers(u, derivative)
	var w [Order]float64
	for j := 0; j < Order; j++ {
		for k := 0; k < Order; k++ {
			w[j] += m[j][k] * p[k]
		}
	}
	return w
}

// knotInfo describes a uniform knot vector starting at start with spacing dt.
type knotInfo struct {
	start float64
	dt    float64
	count int
}

// knotCount returns the number of knots needed to cover [start, end] at spacing dt. A window of
// zero length still gets one full segment.
func knotCount(start, end, dt float64) int {
	return max(int(math.Ceil((end-start)/dt)), 1) + Order - 1
}

func (k knotInfo) minTime() float64 {
	return k.start
}

func (k knotInfo) maxTime() float64 {
	return k.start + float64(k.count-Order+1)*k.dt
}

func (k knotInfo) inRange(t float64) bool {
	return t >= k.minTime() && t <= k.maxTime()
}

// segment returns the index of the first knot influencing t and the normalized time within the
// segment. The caller must check inRange first.
func (k knotInfo) segment(t float64) (int, float64) {
	s := (t - k.start) / k.dt
	idx := int(math.Floor(s))
	last := k.count - Order
	if idx > last {
		idx = last
	}
	if idx < 0 {
		idx = 0
	}
	return idx, s - float64(idx)
}
