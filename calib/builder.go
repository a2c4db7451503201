package calib

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spatialmath"
)

// Residual families, used to report residual distributions per measurement model.
const (
	familyGyro           = "imu_gyro"
	familyAcce           = "imu_acce"
	familyDoppler        = "radar_doppler"
	familyPlane          = "lidar_point_to_plane"
	familyReprojection   = "camera_reprojection"
	familyVisualRotation = "camera_rotation"
	familyVisualPosition = "camera_position"
)

type residualRecord struct {
	cost   estimator.CostFunction
	blocks [][]float64
}

// stagePolicy selects the parameter groups a stage optimizes. The extrinsic and time offset of
// the reference IMU never move.
type stagePolicy struct {
	so3       bool
	scale     bool
	extRot    bool
	extPos    bool
	offsets   bool
	biases    bool
	gravity   bool
	landmarks bool
}

// similarity maps a reconstruction into the world: x_w = rotation * (scale * x) + shift.
type similarity struct {
	rotation []float64
	scale    []float64
	shift    []float64
}

func newSimilarity(q quat.Number) *similarity {
	sim := &similarity{rotation: make([]float64, 4), scale: []float64{1}, shift: make([]float64, 3)}
	estimator.QuatToParams(q, sim.rotation)
	return sim
}

func (sim *similarity) pose() spatialmath.Pose {
	return spatialmath.NewPose(estimator.QuatFromParams(sim.rotation), estimator.VecFromParams(sim.shift))
}

// problemBuilder turns the measurements of the registry into residual blocks over a state.
type problemBuilder struct {
	s        *Solver
	st       *state
	p        *estimator.Problem
	quats    map[*float64]bool
	used     map[*float64]bool
	families map[string][]residualRecord
	err      error
}

func newProblemBuilder(s *Solver, st *state) *problemBuilder {
	b := &problemBuilder{
		s:        s,
		st:       st,
		p:        estimator.NewProblem(),
		quats:    map[*float64]bool{},
		used:     map[*float64]bool{},
		families: map[string][]residualRecord{},
	}
	for _, k := range st.so3 {
		b.markQuaternion(k)
	}
	for _, q := range st.extRot {
		b.markQuaternion(q)
	}
	return b
}

func (b *problemBuilder) markQuaternion(v []float64) {
	b.quats[&v[0]] = true
}

func (b *problemBuilder) isUsed(v []float64) bool {
	return len(v) > 0 && b.used[&v[0]]
}

func (b *problemBuilder) add(family string, cost estimator.CostFunction, loss estimator.LossFunction, blocks [][]float64) {
	if b.err != nil {
		return
	}
	for _, v := range blocks {
		if b.used[&v[0]] {
			continue
		}
		var m estimator.Manifold
		if b.quats[&v[0]] {
			m = estimator.Quaternion{}
		}
		if err := b.p.AddParameterBlock(v, m); err != nil {
			b.err = err
			return
		}
		b.used[&v[0]] = true
	}
	if err := b.p.AddResidualBlock(cost, loss, blocks...); err != nil {
		b.err = err
		return
	}
	b.families[family] = append(b.families[family], residualRecord{cost: cost, blocks: blocks})
}

func (b *problemBuilder) isReference(topic string) bool {
	return topic == b.s.cfg.DataStream.GetReferenceIMU()
}

// pad is how far the time offset of a topic may move from zero.
func (b *problemBuilder) pad(topic string) float64 {
	if b.isReference(topic) {
		return 0
	}
	return b.s.cfg.Prior.TimeOffsetPadding
}

// span is every trajectory time a measurement taken at tm may be evaluated at.
func (b *problemBuilder) span(topic string, t0, t1 float64) (float64, float64) {
	off, pad := b.st.offsets[topic][0], b.pad(topic)
	return t0 + math.Min(off, -pad), t1 + math.Max(off, pad)
}

func (b *problemBuilder) sensor(l *blockList, topic string, withPos bool) (sensorBlocks, bool) {
	sb := sensorBlocks{pos: -1}
	offset, ok := b.st.offsets[topic]
	if !ok {
		b.err = multierr.Combine(b.err, errors.Errorf("no time offset for topic %q", topic))
		return sb, false
	}
	rot, ok := b.st.extRot[topic]
	if !ok {
		b.err = multierr.Combine(b.err, errors.Errorf("no extrinsic for topic %q", topic))
		return sb, false
	}
	sb.offset = l.add(offset)
	sb.rot = l.add(rot)
	if withPos {
		sb.pos = l.add(b.st.extPos[topic])
	}
	return sb, true
}

func (b *problemBuilder) robustLoss() estimator.LossFunction {
	return estimator.HuberLoss{Delta: b.s.cfg.Prior.GetLossThreshold()}
}

func (b *problemBuilder) addGyro(topic string) {
	weight := b.s.cfg.DataStream.IMUTopics[topic].GetGyroWeight()
	for _, f := range b.s.reg.IMU(topic) {
		var l blockList
		t0, t1 := b.span(topic, f.Timestamp, f.Timestamp)
		traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, false)
		if !ok {
			continue
		}
		sb, ok := b.sensor(&l, topic, false)
		if !ok {
			return
		}
		bias := l.add(b.st.gyroBias[topic])
		b.add(familyGyro, &gyroResidual{
			traj: traj, sensor: sb, bias: bias, tm: f.Timestamp, gyro: f.Gyro, weight: weight,
		}, nil, l.blocks)
	}
}

func (b *problemBuilder) addAcce(topic string) {
	weight := b.s.cfg.DataStream.IMUTopics[topic].GetAcceWeight()
	order := b.s.bundle.ScaleType().AccelerationOrder()
	for _, f := range b.s.reg.IMU(topic) {
		var l blockList
		t0, t1 := b.span(topic, f.Timestamp, f.Timestamp)
		traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, true)
		if !ok {
			continue
		}
		sb, ok := b.sensor(&l, topic, true)
		if !ok {
			return
		}
		bias := l.add(b.st.acceBias[topic])
		gravity := l.add(b.st.gravity)
		b.add(familyAcce, &acceResidual{
			traj: traj, sensor: sb, bias: bias, gravity: gravity, order: order,
			tm: f.Timestamp, acce: f.Acce, weight: weight,
		}, nil, l.blocks)
	}
}

func (b *problemBuilder) addDoppler(topic string) {
	order, ok := b.s.bundle.ScaleType().VelocityOrder()
	if !ok {
		return
	}
	weight := b.s.cfg.DataStream.RadarTopics[topic].GetWeight()
	loss := b.robustLoss()
	for _, arr := range b.s.reg.Radar(topic) {
		for _, tar := range arr.Targets {
			dir := tar.Direction()
			if dir.Norm() == 0 {
				continue
			}
			var l blockList
			t0, t1 := b.span(topic, tar.Timestamp, tar.Timestamp)
			traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, true)
			if !ok {
				continue
			}
			sb, ok := b.sensor(&l, topic, true)
			if !ok {
				return
			}
			b.add(familyDoppler, &dopplerResidual{
				traj: traj, sensor: sb, order: order, tm: tar.Timestamp,
				dir: dir, radial: tar.RadialVelocity, weight: weight,
			}, loss, l.blocks)
		}
	}
}

func (b *problemBuilder) addPlanes(topic string, corrs []planeCorrespondence) {
	weight := b.s.cfg.DataStream.LiDARTopics[topic].GetWeight()
	loss := b.robustLoss()
	for _, c := range corrs {
		var l blockList
		t0, t1 := b.span(topic, c.tm, c.tm)
		traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, true)
		if !ok {
			continue
		}
		sb, ok := b.sensor(&l, topic, true)
		if !ok {
			return
		}
		b.add(familyPlane, &planeResidual{
			traj: traj, sensor: sb, tm: c.tm, point: c.point, normal: c.normal, center: c.center, weight: weight,
		}, loss, l.blocks)
	}
}

func (b *problemBuilder) addReprojection(topic string, structure *sfm.Structure) {
	weight := b.s.cfg.DataStream.CameraTopics[topic].GetWeight()
	loss := b.robustLoss()
	landmarks := b.st.landmarks[topic]
	for _, id := range structure.LandmarkIDs() {
		lm := structure.Landmarks[id]
		for _, viewID := range sortedIDs(lo.Keys(lm.Obs)) {
			view, ok := structure.Views[viewID]
			if !ok {
				continue
			}
			model, ok := structure.Intrinsics[view.IntrinsicID]
			if !ok {
				continue
			}
			var l blockList
			t0, t1 := b.span(topic, view.Timestamp, view.Timestamp)
			traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, true)
			if !ok {
				continue
			}
			sb, ok := b.sensor(&l, topic, true)
			if !ok {
				return
			}
			landmark := l.add(landmarks[id])
			b.add(familyReprojection, &reprojectionResidual{
				traj: traj, sensor: sb, landmark: landmark, tm: view.Timestamp,
				obs: lm.Obs[viewID].X, intrinsics: model.PinholeCameraIntrinsics, weight: weight,
			}, loss, l.blocks)
		}
	}
}

func (b *problemBuilder) addVisualRotation(topic string, structure *sfm.Structure) {
	weight := b.s.cfg.DataStream.CameraTopics[topic].GetWeight()
	loss := b.robustLoss()
	views := viewsByTime(structure)
	for i := 1; i < len(views); i++ {
		vi, vj := views[i-1], views[i]
		qi, qj := structure.Poses[vi.ID].Orientation, structure.Poses[vj.ID].Orientation
		var l blockList
		t0, t1 := b.span(topic, vi.Timestamp, vj.Timestamp)
		traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, false)
		if !ok {
			continue
		}
		sb, ok := b.sensor(&l, topic, false)
		if !ok {
			return
		}
		b.add(familyVisualRotation, &visualRotationResidual{
			traj: traj, sensor: sb, ti: vi.Timestamp, tj: vj.Timestamp,
			relative: quat.Mul(spatialmath.QuatInverse(qi), qj), weight: weight,
		}, loss, l.blocks)
	}
}

func (b *problemBuilder) addVisualPosition(topic string, structure *sfm.Structure, sim *similarity) {
	b.markQuaternion(sim.rotation)
	weight := b.s.cfg.DataStream.CameraTopics[topic].GetWeight()
	for _, view := range viewsByTime(structure) {
		var l blockList
		t0, t1 := b.span(topic, view.Timestamp, view.Timestamp)
		traj, ok := l.addTrajectory(b.st, b.s.bundle, t0, t1, true)
		if !ok {
			continue
		}
		sb, ok := b.sensor(&l, topic, true)
		if !ok {
			return
		}
		b.add(familyVisualPosition, &visualPositionResidual{
			traj: traj, sensor: sb,
			rotation: l.add(sim.rotation), scale: l.add(sim.scale), shift: l.add(sim.shift),
			tm: view.Timestamp, center: structure.Poses[view.ID].Point, weight: weight,
		}, nil, l.blocks)
	}
}

// applyPolicy fixes every used block the policy does not optimize and bounds the time offsets.
func (b *problemBuilder) applyPolicy(pol stagePolicy) error {
	var err error
	fix := func(v []float64, variable bool) {
		if variable || !b.isUsed(v) {
			return
		}
		err = multierr.Combine(err, b.p.SetParameterBlockConstant(v))
	}
	for _, k := range b.st.so3 {
		fix(k, pol.so3)
	}
	for _, k := range b.st.scale {
		fix(k, pol.scale)
	}
	for topic, v := range b.st.extRot {
		fix(v, pol.extRot && !b.isReference(topic))
	}
	for topic, v := range b.st.extPos {
		fix(v, pol.extPos && !b.isReference(topic))
	}
	for topic, v := range b.st.offsets {
		pad := b.pad(topic)
		variable := pol.offsets && pad > 0
		fix(v, variable)
		if variable && b.isUsed(v) {
			err = multierr.Combine(err, b.p.SetParameterBounds(v, -pad, pad))
		}
	}
	for _, v := range b.st.gyroBias {
		fix(v, pol.biases)
	}
	for _, v := range b.st.acceBias {
		fix(v, pol.biases)
	}
	fix(b.st.gravity, pol.gravity)
	for _, lms := range b.st.landmarks {
		for _, v := range lms {
			fix(v, pol.landmarks)
		}
	}
	return err
}

func viewsByTime(structure *sfm.Structure) []*sfm.View {
	views := make([]*sfm.View, 0, len(structure.Views))
	for _, id := range structure.ViewIDs() {
		views = append(views, structure.Views[id])
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].Timestamp < views[j].Timestamp })
	return views
}

func sortedIDs(ids []uint64) []uint64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
