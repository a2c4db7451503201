package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/rimage/transform"
	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/spline"
)

// angularAccelerationStep is the normalized segment time step used to differentiate angular
// velocity.
const angularAccelerationStep = 1e-3

// trajectoryView evaluates the trajectory from the knot blocks handed to a cost function.
type trajectoryView struct {
	bundle  *spline.Bundle
	so3     knotWindow
	scale   knotWindow
	so3At   int
	scaleAt int
}

func (v *trajectoryView) so3Knots(params [][]float64, t float64) ([spline.Order]quat.Number, float64, bool) {
	var knots [spline.Order]quat.Number
	idx, u, ok := v.bundle.SO3().Segment(t)
	if !ok || idx < v.so3.first || idx+spline.Order > v.so3.first+v.so3.count {
		return knots, 0, false
	}
	for j := range knots {
		knots[j] = estimator.QuatFromParams(params[v.so3At+idx-v.so3.first+j])
	}
	return knots, u, true
}

func (v *trajectoryView) rotation(params [][]float64, t float64) (quat.Number, bool) {
	knots, u, ok := v.so3Knots(params, t)
	if !ok {
		return quat.Number{}, false
	}
	return spline.EvaluateSO3(knots, u), true
}

// angularMotion returns the body frame angular velocity and acceleration at t.
func (v *trajectoryView) angularMotion(params [][]float64, t float64) (r3.Vector, r3.Vector, bool) {
	knots, u, ok := v.so3Knots(params, t)
	if !ok {
		return r3.Vector{}, r3.Vector{}, false
	}
	dt := v.bundle.SO3().KnotTimeDist()
	omega := spline.AngularVelocitySO3(knots, u, dt)
	ahead := spline.AngularVelocitySO3(knots, u+angularAccelerationStep, dt)
	behind := spline.AngularVelocitySO3(knots, u-angularAccelerationStep, dt)
	alpha := ahead.Sub(behind).Mul(1 / (2 * angularAccelerationStep * dt))
	return omega, alpha, true
}

func (v *trajectoryView) angularVelocity(params [][]float64, t float64) (r3.Vector, bool) {
	knots, u, ok := v.so3Knots(params, t)
	if !ok {
		return r3.Vector{}, false
	}
	return spline.AngularVelocitySO3(knots, u, v.bundle.SO3().KnotTimeDist()), true
}

// scaleDerivative returns the given order time derivative of the scale spline at t.
func (v *trajectoryView) scaleDerivative(params [][]float64, t float64, order int) (r3.Vector, bool) {
	idx, u, ok := v.bundle.Scale().Segment(t)
	if !ok || v.scaleAt < 0 || idx < v.scale.first || idx+spline.Order > v.scale.first+v.scale.count {
		return r3.Vector{}, false
	}
	var knots [spline.Order]r3.Vector
	for j := range knots {
		knots[j] = estimator.VecFromParams(params[v.scaleAt+idx-v.scale.first+j])
	}
	return spline.EvaluateRd(knots, u, v.bundle.Scale().KnotTimeDist(), order), true
}

// blockList collects the parameter blocks of one residual.
type blockList struct {
	blocks [][]float64
}

func (l *blockList) add(b []float64) int {
	l.blocks = append(l.blocks, b)
	return len(l.blocks) - 1
}

// addTrajectory appends the knots influencing [t0, t1]. withScale also appends scale knots.
func (l *blockList) addTrajectory(st *state, b *spline.Bundle, t0, t1 float64, withScale bool) (trajectoryView, bool) {
	view := trajectoryView{bundle: b, scaleAt: -1}
	w, ok := windowFor(b.SO3(), t0, t1)
	if !ok {
		return view, false
	}
	view.so3 = w
	view.so3At = len(l.blocks)
	for i := w.first; i < w.first+w.count; i++ {
		l.add(st.so3[i])
	}
	if !withScale {
		return view, true
	}
	w, ok = windowFor(b.Scale(), t0, t1)
	if !ok {
		return view, false
	}
	view.scale = w
	view.scaleAt = len(l.blocks)
	for i := w.first; i < w.first+w.count; i++ {
		l.add(st.scale[i])
	}
	return view, true
}

// sensorBlocks indexes the extrinsic and time offset of the sensor a residual belongs to.
type sensorBlocks struct {
	offset int
	rot    int
	pos    int
}

func (s sensorBlocks) time(params [][]float64, t float64) float64 {
	return t + params[s.offset][0]
}

func (s sensorBlocks) extrinsic(params [][]float64) spatialmath.Pose {
	p := spatialmath.Pose{Orientation: estimator.QuatFromParams(params[s.rot])}
	if s.pos >= 0 {
		p.Point = estimator.VecFromParams(params[s.pos])
	}
	return p
}

func writeVec(res []float64, v r3.Vector, weight float64) {
	res[0], res[1], res[2] = v.X*weight, v.Y*weight, v.Z*weight
}

// gyroResidual compares the spline angular velocity, seen from the IMU, with a gyroscope sample.
type gyroResidual struct {
	traj   trajectoryView
	sensor sensorBlocks
	bias   int
	tm     float64
	gyro   r3.Vector
	weight float64
}

func (r *gyroResidual) NumResiduals() int { return 3 }

func (r *gyroResidual) Evaluate(params [][]float64, res []float64) bool {
	omega, ok := r.traj.angularVelocity(params, r.sensor.time(params, r.tm))
	if !ok {
		return false
	}
	q := estimator.QuatFromParams(params[r.sensor.rot])
	pred := spatialmath.RotateVector(spatialmath.QuatInverse(q), omega)
	bias := estimator.VecFromParams(params[r.bias])
	writeVec(res, pred.Sub(r.gyro.Sub(bias)), r.weight)
	return true
}

// acceResidual compares the specific force of the IMU origin with an accelerometer sample.
type acceResidual struct {
	traj    trajectoryView
	sensor  sensorBlocks
	bias    int
	gravity int
	order   int
	tm      float64
	acce    r3.Vector
	weight  float64
}

func (r *acceResidual) NumResiduals() int { return 3 }

func (r *acceResidual) Evaluate(params [][]float64, res []float64) bool {
	t := r.sensor.time(params, r.tm)
	rot, ok := r.traj.rotation(params, t)
	if !ok {
		return false
	}
	omega, alpha, ok := r.traj.angularMotion(params, t)
	if !ok {
		return false
	}
	acc, ok := r.traj.scaleDerivative(params, t, r.order)
	if !ok {
		return false
	}
	extr := r.sensor.extrinsic(params)
	lever := extr.Point
	// acceleration of the imu origin in the body frame, relative to the body origin
	rel := alpha.Cross(lever).Add(omega.Cross(omega.Cross(lever)))
	accWorld := acc.Add(spatialmath.RotateVector(rot, rel))
	force := accWorld.Sub(estimator.VecFromParams(params[r.gravity]))
	toIMU := spatialmath.QuatInverse(quat.Mul(rot, extr.Orientation))
	pred := spatialmath.RotateVector(toIMU, force)
	bias := estimator.VecFromParams(params[r.bias])
	writeVec(res, pred.Sub(r.acce.Sub(bias)), r.weight)
	return true
}

// dopplerResidual compares the radial velocity of a static target predicted from the radar
// velocity with the measured one.
type dopplerResidual struct {
	traj   trajectoryView
	sensor sensorBlocks
	order  int
	tm     float64
	dir    r3.Vector
	radial float64
	weight float64
}

func (r *dopplerResidual) NumResiduals() int { return 1 }

func (r *dopplerResidual) Evaluate(params [][]float64, res []float64) bool {
	t := r.sensor.time(params, r.tm)
	rot, ok := r.traj.rotation(params, t)
	if !ok {
		return false
	}
	omega, ok := r.traj.angularVelocity(params, t)
	if !ok {
		return false
	}
	vel, ok := r.traj.scaleDerivative(params, t, r.order)
	if !ok {
		return false
	}
	extr := r.sensor.extrinsic(params)
	radarVel := vel.Add(spatialmath.RotateVector(rot, omega.Cross(extr.Point)))
	inRadar := spatialmath.RotateVector(spatialmath.QuatInverse(quat.Mul(rot, extr.Orientation)), radarVel)
	res[0] = (-r.dir.Dot(inRadar) - r.radial) * r.weight
	return true
}

// planeResidual is the signed distance of a LiDAR point, mapped to the world, to a map plane.
type planeResidual struct {
	traj   trajectoryView
	sensor sensorBlocks
	tm     float64
	point  r3.Vector
	normal r3.Vector
	center r3.Vector
	weight float64
}

func (r *planeResidual) NumResiduals() int { return 1 }

func (r *planeResidual) Evaluate(params [][]float64, res []float64) bool {
	t := r.sensor.time(params, r.tm)
	rot, ok := r.traj.rotation(params, t)
	if !ok {
		return false
	}
	pos, ok := r.traj.scaleDerivative(params, t, 0)
	if !ok {
		return false
	}
	world := spatialmath.Compose(spatialmath.NewPose(rot, pos), r.sensor.extrinsic(params)).Transform(r.point)
	res[0] = r.normal.Dot(world.Sub(r.center)) * r.weight
	return true
}

// minDepth keeps projections finite for landmarks behind the camera.
const minDepth = 1e-3

// reprojectionResidual is the pixel error of a landmark observed in a view.
type reprojectionResidual struct {
	traj       trajectoryView
	sensor     sensorBlocks
	landmark   int
	tm         float64
	obs        r2.Point
	intrinsics *transform.PinholeCameraIntrinsics
	weight     float64
}

func (r *reprojectionResidual) NumResiduals() int { return 2 }

func (r *reprojectionResidual) Evaluate(params [][]float64, res []float64) bool {
	t := r.sensor.time(params, r.tm)
	rot, ok := r.traj.rotation(params, t)
	if !ok {
		return false
	}
	pos, ok := r.traj.scaleDerivative(params, t, 0)
	if !ok {
		return false
	}
	camToWorld := spatialmath.Compose(spatialmath.NewPose(rot, pos), r.sensor.extrinsic(params))
	x := spatialmath.PoseInverse(camToWorld).Transform(estimator.VecFromParams(params[r.landmark]))
	z := math.Max(x.Z, minDepth)
	in := r.intrinsics
	res[0] = (in.Fx*x.X/z + in.Ppx - r.obs.X) * r.weight
	res[1] = (in.Fy*x.Y/z + in.Ppy - r.obs.Y) * r.weight
	return true
}

// visualRotationResidual compares the relative rotation of two reconstructed views with the one
// of the camera carried by the trajectory.
type visualRotationResidual struct {
	traj     trajectoryView
	sensor   sensorBlocks
	ti, tj   float64
	relative quat.Number
	weight   float64
}

func (r *visualRotationResidual) NumResiduals() int { return 3 }

func (r *visualRotationResidual) Evaluate(params [][]float64, res []float64) bool {
	ri, ok := r.traj.rotation(params, r.sensor.time(params, r.ti))
	if !ok {
		return false
	}
	rj, ok := r.traj.rotation(params, r.sensor.time(params, r.tj))
	if !ok {
		return false
	}
	extr := estimator.QuatFromParams(params[r.sensor.rot])
	ci, cj := quat.Mul(ri, extr), quat.Mul(rj, extr)
	pred := quat.Mul(spatialmath.QuatInverse(ci), cj)
	writeVec(res, spatialmath.LogSO3(quat.Mul(spatialmath.QuatInverse(pred), r.relative)), r.weight)
	return true
}

// visualPositionResidual ties the camera center carried by the trajectory to a reconstructed one,
// mapped to the world by a similarity.
type visualPositionResidual struct {
	traj     trajectoryView
	sensor   sensorBlocks
	rotation int
	scale    int
	shift    int
	tm       float64
	center   r3.Vector
	weight   float64
}

func (r *visualPositionResidual) NumResiduals() int { return 3 }

func (r *visualPositionResidual) Evaluate(params [][]float64, res []float64) bool {
	t := r.sensor.time(params, r.tm)
	rot, ok := r.traj.rotation(params, t)
	if !ok {
		return false
	}
	pos, ok := r.traj.scaleDerivative(params, t, 0)
	if !ok {
		return false
	}
	pred := pos.Add(spatialmath.RotateVector(rot, r.sensor.extrinsic(params).Point))
	q := estimator.QuatFromParams(params[r.rotation])
	meas := spatialmath.RotateVector(q, r.center.Mul(params[r.scale][0])).Add(estimator.VecFromParams(params[r.shift]))
	writeVec(res, pred.Sub(meas), r.weight)
	return true
}
