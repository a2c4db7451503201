package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const smallAngle = 1e-10

// Norm returns the norm of the quaternion, i.e. the sqrt of the squares of the imaginary parts.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// QuatNormalize scales q to unit length, with a non-negative real part.
func QuatNormalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/n, q)
	if q.Real < 0 {
		q = Flip(q)
	}
	return q
}

// QuatInverse returns the inverse rotation of the unit quaternion q.
func QuatInverse(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// ExpSO3 maps a rotation vector (axis scaled by angle, radians) to a unit quaternion.
func ExpSO3(omega r3.Vector) quat.Number {
	theta := omega.Norm()
	if theta < smallAngle {
		// second order expansion keeps the derivative right near zero.
		half := omega.Mul(0.5)
		return QuatNormalize(quat.Number{Real: 1 - theta*theta/8, Imag: half.X, Jmag: half.Y, Kmag: half.Z})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: omega.X * s, Jmag: omega.Y * s, Kmag: omega.Z * s}
}

// LogSO3 maps a unit quaternion to its rotation vector, with angle in [0, pi].
func LogSO3(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = Flip(q)
	}
	n := Norm(q)
	if n < smallAngle {
		return r3.Vector{X: 2 * q.Imag, Y: 2 * q.Jmag, Z: 2 * q.Kmag}
	}
	theta := 2 * math.Atan2(n, q.Real)
	return r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}.Mul(theta / n)
}

// QuaternionAlmostEqual is an equality test for two quaternions representing the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	return quatComponentsClose(a, b, tol) || quatComponentsClose(a, Flip(b), tol)
}

func quatComponentsClose(a, b quat.Number, tol float64) bool {
	return math.Abs(a.Real-b.Real) < tol &&
		math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol &&
		math.Abs(a.Kmag-b.Kmag) < tol
}

// QuatAngleBetween returns the angle in radians of the rotation taking a to b.
func QuatAngleBetween(a, b quat.Number) float64 {
	return LogSO3(quat.Mul(QuatInverse(a), b)).Norm()
}

// QuatToRotationMatrix returns the 3x3 row-major rotation matrix for the unit quaternion q.
func QuatToRotationMatrix(q quat.Number) [9]float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// RotationMatrixToQuat converts a row-major 3x3 rotation matrix to a unit quaternion.
// See https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/
func RotationMatrixToQuat(m [9]float64) quat.Number {
	var q quat.Number
	tr := m[0] + m[4] + m[8]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: s / 4, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: s / 4, Kmag: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: s / 4}
	}
	return QuatNormalize(q)
}
