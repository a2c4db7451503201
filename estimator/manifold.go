package estimator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/spatialmath"
)

// Manifold describes how a parameter block is updated from a tangent space step.
type Manifold interface {
	AmbientSize() int
	TangentSize() int
	// Plus writes x boxplus delta into out. out never aliases x.
	Plus(x, delta, out []float64)
}

// Euclidean is the flat manifold of a given size.
type Euclidean struct {
	Size int
}

// NewEuclidean returns a flat manifold of size n.
func NewEuclidean(n int) Euclidean {
	return Euclidean{Size: n}
}

// AmbientSize is the number of stored values.
func (e Euclidean) AmbientSize() int { return e.Size }

// TangentSize is the number of degrees of freedom.
func (e Euclidean) TangentSize() int { return e.Size }

// Plus adds delta to x.
func (e Euclidean) Plus(x, delta, out []float64) {
	for i := range x {
		out[i] = x[i] + delta[i]
	}
}

// Quaternion is the manifold of unit quaternions stored as w, x, y, z. Steps are applied on the
// right: q boxplus d = q * Exp(d).
type Quaternion struct{}

// AmbientSize is the number of stored values.
func (Quaternion) AmbientSize() int { return 4 }

// TangentSize is the number of degrees of freedom.
func (Quaternion) TangentSize() int { return 3 }

// Plus right-multiplies x by the exponential of delta.
func (Quaternion) Plus(x, delta, out []float64) {
	q := QuatFromParams(x)
	q = quat.Mul(q, spatialmath.ExpSO3(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}))
	QuatToParams(spatialmath.QuatNormalize(q), out)
}

// QuatFromParams reads a w, x, y, z quaternion.
func QuatFromParams(p []float64) quat.Number {
	return quat.Number{Real: p[0], Imag: p[1], Jmag: p[2], Kmag: p[3]}
}

// QuatToParams writes a quaternion as w, x, y, z.
func QuatToParams(q quat.Number, p []float64) {
	p[0], p[1], p[2], p[3] = q.Real, q.Imag, q.Jmag, q.Kmag
}

// VecFromParams reads a 3-vector.
func VecFromParams(p []float64) r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// VecToParams writes a 3-vector.
func VecToParams(v r3.Vector, p []float64) {
	p[0], p[1], p[2] = v.X, v.Y, v.Z
}
