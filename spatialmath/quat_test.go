package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestExpLogRoundTrip(t *testing.T) {
	for _, omega := range []r3.Vector{
		{X: 0.3, Y: -0.2, Z: 0.9},
		{X: 0, Y: 0, Z: math.Pi - 1e-3},
		{X: 1e-12, Y: 0, Z: 0},
		{},
	} {
		q := ExpSO3(omega)
		test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1, 1e-12)
		back := LogSO3(q)
		test.That(t, back.X, test.ShouldAlmostEqual, omega.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, omega.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, omega.Z, 1e-9)
	}
}

func TestRotateVector(t *testing.T) {
	aa := R4AA{Theta: math.Pi / 2, RZ: 1}
	q := aa.ToQuat()
	v := RotateVector(q, r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1, 1e-12)

	m := QuatToRotationMatrix(q)
	test.That(t, m[3], test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, QuaternionAlmostEqual(RotationMatrixToQuat(m), q, 1e-9), test.ShouldBeTrue)

	aa4 := QuatToR4AA(q)
	test.That(t, aa4.Theta, test.ShouldAlmostEqual, math.Pi/2, 1e-12)
	test.That(t, aa4.RZ, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, QuaternionAlmostEqual(q, Flip(q), 1e-12), test.ShouldBeTrue)
}

func TestPoseComposeInverse(t *testing.T) {
	a := NewPose(ExpSO3(r3.Vector{X: 0.1, Y: 0.5, Z: -0.3}), r3.Vector{X: 1, Y: 2, Z: 3})
	b := NewPose(ExpSO3(r3.Vector{X: -0.7, Z: 0.2}), r3.Vector{X: -4, Y: 0.5})
	pt := r3.Vector{X: 0.3, Y: -1, Z: 2}

	ab := Compose(a, b)
	want := a.Transform(b.Transform(pt))
	got := ab.Transform(pt)
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-12)

	identity := Compose(a, PoseInverse(a))
	test.That(t, PoseAlmostEqual(identity, NewZeroPose(), 1e-12, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(PoseBetween(a, ab), b, 1e-12, 1e-9), test.ShouldBeTrue)
}

func TestGravityAlignedRotation(t *testing.T) {
	gravity := r3.Vector{X: 1.2, Y: -0.4, Z: -9.6}
	first := ExpSO3(r3.Vector{X: 0.2, Y: 0.1, Z: 1.1})

	refToWorld := GravityAlignedRotation(first, gravity)
	aligned := RotateVector(refToWorld, gravity)
	test.That(t, aligned.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, aligned.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, aligned.Z, test.ShouldAlmostEqual, -gravity.Norm(), 1e-9)

	// applying the result and aligning again is a no-op.
	again := GravityAlignedRotation(quat.Mul(refToWorld, first), aligned)
	test.That(t, QuaternionAlmostEqual(again, quat.Number{Real: 1}, 1e-9), test.ShouldBeTrue)

	// an identity first orientation with vertical gravity needs no rotation.
	none := GravityAlignedRotation(quat.Number{Real: 1}, r3.Vector{Z: -9.8})
	test.That(t, QuaternionAlmostEqual(none, quat.Number{Real: 1}, 1e-9), test.ShouldBeTrue)
}

func TestQuatToAngVel(t *testing.T) {
	rate := r3.Vector{X: 0.4, Y: -0.1, Z: 0.25}
	dt := 0.01
	from := ExpSO3(r3.Vector{X: 1})
	to := quat.Mul(from, ExpSO3(rate.Mul(dt)))
	w := FiniteAngVel(from, to, dt)
	test.That(t, w.X, test.ShouldAlmostEqual, rate.X, 1e-9)
	test.That(t, w.Y, test.ShouldAlmostEqual, rate.Y, 1e-9)
	test.That(t, w.Z, test.ShouldAlmostEqual, rate.Z, 1e-9)
}
