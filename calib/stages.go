package calib

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/spline"
)

// Stage descriptions, also used as checkpoint file names.
const (
	StageRotation    = "rotation_opt"
	StageVisualInit  = "visual_init"
	StageBatch       = "batch_opt"
	StageLiDARRefine = "lidar_refine"
)

// minVisualScale keeps the scale of a reconstruction positive.
const minVisualScale = 1e-6

// Solve refines the trajectory and the parameter set. The rotation spline is fitted first,
// against the gyroscopes and the relative rotations of reconstructed views, after which the
// trajectory is aligned to gravity. Reconstructions are then brought into the world frame and
// every modality is fitted in a batch stage. When LiDARs are present a map is built from the batch
// estimate and a final stage adds point-to-plane residuals against it.
//
// Non-convergence of a stage is not an error; it is reported through StageSummaries.
func (s *Solver) Solve(ctx context.Context) error {
	s.setState(Optimizing)
	s.logger.Info("solving...")

	rotation := stagePolicy{so3: true, extRot: true, offsets: true, biases: true}
	if err := s.runStage(ctx, StageRotation, rotation, func(b *problemBuilder) error {
		for _, topic := range s.reg.Topics(sensor.IMU) {
			b.addGyro(topic)
		}
		for _, topic := range s.visualTopics() {
			b.addVisualRotation(topic, s.structures[topic])
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.alignToGravity(); err != nil {
		return err
	}
	if err := s.initializeVisual(ctx); err != nil {
		return err
	}

	batchPolicy := stagePolicy{
		so3: true, scale: true, extRot: true, extPos: true, offsets: true, biases: true, landmarks: true,
	}
	batch := func(b *problemBuilder) error {
		for _, topic := range s.reg.Topics(sensor.IMU) {
			b.addGyro(topic)
			b.addAcce(topic)
		}
		for _, topic := range s.reg.Topics(sensor.Radar) {
			b.addDoppler(topic)
		}
		for _, topic := range s.visualTopics() {
			b.addReprojection(topic, s.structures[topic])
		}
		return nil
	}
	if err := s.runStage(ctx, StageBatch, batchPolicy, batch); err != nil {
		return err
	}

	if s.reg.Has(sensor.LiDAR) && s.bundle.ScaleType() == spline.LinPos {
		m, err := s.lidarMapForStage(StageBatch)
		if err != nil {
			return err
		}
		if err := s.runStage(ctx, StageLiDARRefine, batchPolicy, func(b *problemBuilder) error {
			if err := batch(b); err != nil {
				return err
			}
			for _, topic := range s.reg.Topics(sensor.LiDAR) {
				corrs := m.correspondences(s, topic)
				s.logger.Infof("lidar '%s': %d point-to-plane correspondences", topic, len(corrs))
				b.addPlanes(topic, corrs)
			}
			return nil
		}); err != nil {
			return err
		}
		if _, err := s.lidarMapForStage(StageLiDARRefine); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.setState(Finished)
	s.logger.Infof("solving finished, parameters:\n%s", s.par.Table())
	return nil
}

func (s *Solver) visualTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := lo.Keys(s.structures)
	sort.Strings(topics)
	return topics
}

// lidarMapForStage builds the map from the current estimate and exports it when asked to.
func (s *Solver) lidarMapForStage(desc string) (*lidarMap, error) {
	m, err := s.buildLiDARMap()
	if err != nil {
		return nil, err
	}
	if s.cfg.Preference.Outputs.LiDARMap {
		if err := s.exportLiDARMap(m, desc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Solver) solverOptions() (estimator.Options, error) {
	pref := s.cfg.Preference
	opts := estimator.DefaultOptions()
	opts.Threads = pref.GetThreads()
	opts.MaxIterations = pref.GetMaxIterations()
	method, err := estimator.ParseMethod(pref.GetSolverMethod())
	if err != nil {
		return opts, err
	}
	linearSolver, err := estimator.ParseLinearSolver(pref.GetLinearSolver())
	if err != nil {
		return opts, err
	}
	opts.Method = method
	opts.LinearSolver = linearSolver
	return opts, nil
}

// runStage builds a problem over a fresh state, solves it and writes the result back.
func (s *Solver) runStage(ctx context.Context, desc string, pol stagePolicy, build func(*problemBuilder) error) error {
	st := newState(s.bundle, s.par, s.structures)
	b := newProblemBuilder(s, st)
	if err := build(b); err != nil {
		return errors.Wrapf(err, "stage %s", desc)
	}
	if b.err != nil {
		return errors.Wrapf(b.err, "stage %s", desc)
	}
	if err := b.applyPolicy(pol); err != nil {
		return errors.Wrapf(err, "stage %s", desc)
	}
	s.logger.Infof("stage '%s': %d parameter blocks, %d residual blocks, %d residuals",
		desc, b.p.NumParameterBlocks(), b.p.NumResidualBlocks(), b.p.NumResiduals())

	opts, err := s.solverOptions()
	if err != nil {
		return err
	}
	progress := &progressRecorder{}
	opts.Callbacks = []estimator.IterationCallback{syncCallback{s: s, st: st}, progress}
	if s.debug != nil {
		opts.Callbacks = append(opts.Callbacks, s.debug)
	}
	opts.Callbacks = append(opts.Callbacks, NewViewerCallback(s.viewer, s.bundle, s.par))

	summary, err := estimator.Solve(ctx, b.p, opts)
	st.writeBack(s.bundle, s.par, s.structures)
	s.mu.Lock()
	s.summaries = append(s.summaries, StageSummary{Desc: desc, Summary: summary})
	s.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "stage %s", desc)
	}
	if summary.Termination == estimator.Failure {
		return errors.Errorf("stage %s failed: %s", desc, summary.Message)
	}
	s.logger.Infof("stage '%s' finished: %s", desc, summary.BriefReport())
	if summary.Termination != estimator.Convergence {
		s.logger.Warnf("stage '%s' did not converge", desc)
	}
	s.logger.Debugf("residual norms after stage '%s':\n%s", desc, residualHistograms(b.families))

	outputs := s.cfg.Preference.Outputs
	if outputs.GetProgressPlot() {
		path := filepath.Join(s.stageDir(), desc+"_epoch_cost.png")
		if err := progress.savePlot(path, desc); err != nil {
			s.logger.Warnw("cannot save progress plot", "stage", desc, "error", err)
		}
	}
	if outputs.GetStageParams() {
		path := filepath.Join(s.stageDir(), desc+config.FormatExtension(s.format()))
		if err := s.par.Save(path, s.format()); err != nil {
			return err
		}
		s.logger.Infof("parameters of stage '%s' saved to '%s'", desc, path)
	}
	return nil
}

// alignToGravity estimates gravity from the reference accelerometer with the fitted rotations,
// then rotates the trajectory so that gravity points down the world z axis.
func (s *Solver) alignToGravity() error {
	ref := s.cfg.DataStream.GetReferenceIMU()
	extr, err := s.par.Extrinsic(ref)
	if err != nil {
		return err
	}
	offset, err := s.par.TimeOffset(ref)
	if err != nil {
		return err
	}
	in, err := s.par.IMU(ref)
	if err != nil {
		return err
	}
	var sum r3.Vector
	n := 0
	for _, f := range s.reg.IMU(ref) {
		rot, ok := s.bundle.EvaluateRotation(f.Timestamp + offset)
		if !ok {
			continue
		}
		sum = sum.Add(spatialmath.RotateVector(quat.Mul(rot, extr.Orientation), f.Acce.Sub(in.AcceBias)))
		n++
	}
	if n == 0 || sum.Norm() == 0 {
		return errors.Errorf("cannot estimate gravity from imu %q", ref)
	}
	gravity := sum.Mul(-1).Normalize().Mul(s.cfg.Prior.GetGravityNorm())
	s.par.Gravity = s.bundle.AlignToGravity(gravity)
	s.logger.Infof("gravity before alignment: %v, after alignment: %v", gravity, s.par.Gravity)
	return nil
}

// initializeVisual maps every reconstruction into the world frame. The rotation comes from the
// fitted rotation spline; the scale and shift are solved together with the position spline.
func (s *Solver) initializeVisual(ctx context.Context) error {
	topics := s.visualTopics()
	if len(topics) == 0 {
		return nil
	}
	if st := s.bundle.ScaleType(); st != spline.LinPos {
		return errors.Wrapf(ErrScaleTypeMismatch, "visual initialization with scale type %s", st)
	}
	prior := s.cfg.Prior.SfM
	sims := map[string]*similarity{}
	for _, topic := range topics {
		structure := s.structures[topic]
		DownsampleVisualStructure(structure, prior.GetMaxLandmarks(), prior.GetMaxObsPerLandmark())
		q, err := s.reconstructionRotation(topic, structure)
		if err != nil {
			return err
		}
		sims[topic] = newSimilarity(q)
	}

	policy := stagePolicy{scale: true}
	if err := s.runStage(ctx, StageVisualInit, policy, func(b *problemBuilder) error {
		b.addAcce(s.cfg.DataStream.GetReferenceIMU())
		for _, topic := range topics {
			b.addVisualPosition(topic, s.structures[topic], sims[topic])
			if b.isUsed(sims[topic].scale) {
				if err := b.p.SetParameterBounds(sims[topic].scale, minVisualScale, 1/minVisualScale); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, topic := range topics {
		sim := sims[topic]
		TransformVisualStructure(s.structures[topic], sim.pose(), sim.scale[0])
		s.logger.Infof("reconstruction of camera '%s' mapped to the world with scale %.4f", topic, sim.scale[0])
	}
	return nil
}

// reconstructionRotation averages the reconstruction to world rotation implied by every view.
func (s *Solver) reconstructionRotation(topic string, structure *sfm.Structure) (quat.Number, error) {
	extr, err := s.par.Extrinsic(topic)
	if err != nil {
		return quat.Number{}, err
	}
	offset, err := s.par.TimeOffset(topic)
	if err != nil {
		return quat.Number{}, err
	}
	var sum, first quat.Number
	n := 0
	for _, id := range structure.ViewIDs() {
		rot, ok := s.bundle.EvaluateRotation(structure.Views[id].Timestamp + offset)
		if !ok {
			continue
		}
		camToWorld := quat.Mul(rot, extr.Orientation)
		q := quat.Mul(camToWorld, spatialmath.QuatInverse(structure.Poses[id].Orientation))
		if n == 0 {
			first = q
		}
		// same hemisphere
		if q.Real*first.Real+q.Imag*first.Imag+q.Jmag*first.Jmag+q.Kmag*first.Kmag < 0 {
			q = quat.Scale(-1, q)
		}
		sum = quat.Add(sum, q)
		n++
	}
	if n == 0 {
		return quat.Number{}, errors.Errorf("no view of camera %q falls inside the trajectory", topic)
	}
	return spatialmath.QuatNormalize(sum), nil
}
