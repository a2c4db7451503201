package calib

import (
	"context"
	"encoding/csv"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rigcalib/align"
	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/params"
	"go.viam.com/rigcalib/pointcloud"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/spline"
	"go.viam.com/rigcalib/utils"
)

const (
	imuTopic   = "/imu"
	radarTopic = "/radar"
	lidarTopic = "/points"
	camTopic   = "/cam"
)

const intrinsicsJSON = `{
  "intrinsic_parameters": {"width_px": 64, "height_px": 48, "fx": 50, "fy": 50, "ppx": 32, "ppy": 24},
  "distortion": {"type": "no_distortion"}
}`

var testWindow = align.TimeWindow{RawStart: 0, RawEnd: 2, AlignedStart: 0, AlignedEnd: 2, Padding: 0.1}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ConfigFilePath: filepath.Join(dir, "rig.yaml"),
		DataStream: config.DataStream{
			OutputPath: filepath.Join(dir, "out"),
			IMUTopics:  map[string]config.IMUConfig{imuTopic: {Type: "SENSOR_IMU"}},
		},
		Prior: config.Prior{KnotTimeDist: config.KnotTimeDist{SO3Spline: 0.1, ScaleSpline: 0.1}},
		Preference: config.Preference{
			OutputDataFormat: config.FormatJSON,
			Threads:          2,
			MaxIterations:    5,
		},
	}
}

func withCamera(t *testing.T, cfg *config.Config) {
	t.Helper()
	path := filepath.Join(filepath.Dir(cfg.ConfigFilePath), "cam.json")
	test.That(t, os.WriteFile(path, []byte(intrinsicsJSON), 0o600), test.ShouldBeNil)
	cfg.DataStream.CameraTopics = map[string]config.CameraConfig{
		camTopic: {Type: "SENSOR_IMAGE_GS", IntrinsicsFile: "cam.json"},
	}
}

func newTestSolver(t *testing.T, cfg *config.Config, reg *sensor.Registry, opts ...Option) *Solver {
	t.Helper()
	par, err := params.New(cfg)
	test.That(t, err, test.ShouldBeNil)
	s, err := NewSolver(reg, testWindow, par, cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return s
}

// spinningIMU samples a rig rotating about the gravity axis at rate rad/s without translating.
func spinningIMU(rate, gravity float64) []*sensor.IMUFrame {
	var frames []*sensor.IMUFrame
	for tm := 0.; tm <= 2+1e-9; tm += 0.02 {
		frames = append(frames, &sensor.IMUFrame{
			Timestamp: tm,
			Gyro:      r3.Vector{Z: rate},
			Acce:      r3.Vector{Z: gravity},
		})
	}
	return frames
}

func setRotationRate(b *spline.Bundle, rate float64) {
	so3 := b.SO3()
	step := r3.Vector{Z: rate * so3.KnotTimeDist()}
	for i := 0; i < so3.NumKnots(); i++ {
		so3.SetKnot(i, spatialmath.ExpSO3(step.Mul(float64(i))))
	}
}

func setScale(b *spline.Bundle, v r3.Vector) {
	for i := 0; i < b.Scale().NumKnots(); i++ {
		b.Scale().SetKnot(i, v)
	}
}

type fakeViewer struct {
	updates int
	quits   int
	closes  int
}

func (v *fakeViewer) Update(*spline.Bundle, *params.ParamSet) error {
	v.updates++
	return nil
}

func (v *fakeViewer) Quit() { v.quits++ }

func (v *fakeViewer) Close() error {
	v.closes++
	return nil
}

func TestNewSolver(t *testing.T) {
	cfg := testConfig(t)
	par, err := params.New(cfg)
	test.That(t, err, test.ShouldBeNil)
	logger := logging.NewTestLogger(t)

	_, err = NewSolver(sensor.NewRegistry(), align.TimeWindow{AlignedStart: 0, AlignedEnd: 1, Padding: 0.5}, par, cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg.DataStream.ReferenceIMU = "/nope"
	_, err = NewSolver(sensor.NewRegistry(), testWindow, par, cfg, logger)
	test.That(t, errors.Is(err, params.ErrUnknownTopic), test.ShouldBeTrue)

	cfg.DataStream.ReferenceIMU = ""
	s, err := NewSolver(sensor.NewRegistry(), testWindow, par, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, Constructed)
	test.That(t, s.Bundle().ScaleType(), test.ShouldEqual, spline.LinAcce)
	test.That(t, s.Bundle().MinTime(), test.ShouldAlmostEqual, 0.1)
	test.That(t, s.Bundle().MaxTime(), test.ShouldBeGreaterThanOrEqualTo, 1.9)
	_, ok := s.Summary()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.Close(), test.ShouldBeNil)
}

func TestStateString(t *testing.T) {
	test.That(t, Optimizing.String(), test.ShouldEqual, "optimizing")
	test.That(t, State(42).String(), test.ShouldEqual, "State(42)")
}

func TestPoseQueries(t *testing.T) {
	t.Run("needs a position spline", func(t *testing.T) {
		s := newTestSolver(t, testConfig(t), sensor.NewRegistry())
		_, err := s.EvaluateBodyPose(1)
		test.That(t, errors.Is(err, ErrScaleTypeMismatch), test.ShouldBeTrue)
		_, err = s.EvaluateSensorPose(1, imuTopic)
		test.That(t, errors.Is(err, ErrScaleTypeMismatch), test.ShouldBeTrue)
	})

	cfg := testConfig(t)
	cfg.DataStream.LiDARTopics = map[string]config.LiDARConfig{lidarTopic: {Type: "VLP_POINTS"}}
	s := newTestSolver(t, cfg, sensor.NewRegistry())
	test.That(t, s.Bundle().ScaleType(), test.ShouldEqual, spline.LinPos)

	rot := spatialmath.ExpSO3(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3})
	for i := 0; i < s.Bundle().SO3().NumKnots(); i++ {
		s.Bundle().SO3().SetKnot(i, rot)
	}
	setScale(s.Bundle(), r3.Vector{X: 1, Y: 2, Z: 3})

	body, err := s.EvaluateBodyPose(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(body, spatialmath.NewPose(rot, r3.Vector{X: 1, Y: 2, Z: 3}), 1e-9, 1e-9),
		test.ShouldBeTrue)

	extr := spatialmath.NewPose(spatialmath.ExpSO3(r3.Vector{Z: 0.5}), r3.Vector{X: 0.2})
	s.Params().Extrinsics[lidarTopic] = extr
	s.Params().TimeOffsets[lidarTopic] = 0.05
	pose, err := s.EvaluateSensorPose(1, lidarTopic)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(pose, spatialmath.Compose(body, extr), 1e-9, 1e-9), test.ShouldBeTrue)

	_, err = s.EvaluateBodyPose(10)
	test.That(t, errors.Is(err, spline.ErrTimeOutOfRange), test.ShouldBeTrue)
	_, err = s.EvaluateSensorPose(1.99, lidarTopic)
	test.That(t, errors.Is(err, spline.ErrTimeOutOfRange), test.ShouldBeTrue)
	_, err = s.EvaluateSensorPose(1, "/unknown")
	test.That(t, errors.Is(err, params.ErrUnknownTopic), test.ShouldBeTrue)
}

func TestStateWriteBack(t *testing.T) {
	s := newTestSolver(t, testConfig(t), sensor.NewRegistry())
	st := newState(s.Bundle(), s.Params(), s.structures)
	test.That(t, len(st.so3), test.ShouldEqual, s.Bundle().SO3().NumKnots())
	test.That(t, len(st.scale), test.ShouldEqual, s.Bundle().Scale().NumKnots())

	q := spatialmath.ExpSO3(r3.Vector{Y: 0.4})
	estimator.QuatToParams(q, st.so3[3])
	estimator.VecToParams(r3.Vector{X: 5}, st.scale[2])
	st.offsets[imuTopic][0] = 0.01
	estimator.VecToParams(r3.Vector{Z: 0.1}, st.gyroBias[imuTopic])
	estimator.VecToParams(r3.Vector{X: 1}, st.gravity)
	st.writeBack(s.Bundle(), s.Params(), s.structures)

	test.That(t, spatialmath.QuaternionAlmostEqual(s.Bundle().SO3().Knot(3), q, 1e-12), test.ShouldBeTrue)
	test.That(t, s.Bundle().Scale().Knot(2), test.ShouldResemble, r3.Vector{X: 5})
	test.That(t, s.Params().TimeOffsets[imuTopic], test.ShouldEqual, 0.01)
	test.That(t, s.Params().IMUIntrinsics[imuTopic].GyroBias, test.ShouldResemble, r3.Vector{Z: 0.1})
	test.That(t, s.Params().Gravity, test.ShouldResemble, r3.Vector{X: 1})
}

func TestInertialResidualsVanish(t *testing.T) {
	const rate = 0.8
	cfg := testConfig(t)
	reg := sensor.NewRegistry()
	reg.AddIMU(imuTopic, spinningIMU(rate, cfg.Prior.GetGravityNorm())...)
	s := newTestSolver(t, cfg, reg)
	setRotationRate(s.Bundle(), rate)

	b := newProblemBuilder(s, newState(s.Bundle(), s.Params(), s.structures))
	b.addGyro(imuTopic)
	b.addAcce(imuTopic)
	test.That(t, b.err, test.ShouldBeNil)
	test.That(t, len(b.families[familyGyro]), test.ShouldBeGreaterThan, 50)
	test.That(t, len(b.families[familyAcce]), test.ShouldEqual, len(b.families[familyGyro]))
	for _, family := range []string{familyGyro, familyAcce} {
		for _, n := range residualNorms(b.families[family]) {
			test.That(t, n, test.ShouldBeLessThan, 1e-6)
		}
	}

	// a gyroscope bias shows up in full
	estimator.VecToParams(r3.Vector{X: 0.1}, b.st.gyroBias[imuTopic])
	for _, n := range residualNorms(b.families[familyGyro]) {
		test.That(t, n, test.ShouldAlmostEqual, 0.1, 1e-6)
	}
}

func TestDopplerResidual(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataStream.RadarTopics = map[string]config.RadarConfig{radarTopic: {Type: "RADAR_TARGET_ARRAY"}}
	reg := sensor.NewRegistry()
	reg.AddRadar(radarTopic, &sensor.RadarTargetArray{
		Timestamp: 1,
		Targets: []*sensor.RadarTarget{
			{Timestamp: 1, Point: r3.Vector{X: 4}, RadialVelocity: -1},
			{Timestamp: 1, Point: r3.Vector{Y: 3}, RadialVelocity: 0},
			{Timestamp: 1, Point: r3.Vector{X: 2}, RadialVelocity: 0},
		},
	})
	s := newTestSolver(t, cfg, reg)
	test.That(t, s.Bundle().ScaleType(), test.ShouldEqual, spline.LinVel)
	setScale(s.Bundle(), r3.Vector{X: 1})

	b := newProblemBuilder(s, newState(s.Bundle(), s.Params(), s.structures))
	b.addDoppler(radarTopic)
	test.That(t, b.err, test.ShouldBeNil)
	norms := residualNorms(b.families[familyDoppler])
	test.That(t, norms, test.ShouldHaveLength, 3)
	test.That(t, norms[0], test.ShouldBeLessThan, 1e-9)
	test.That(t, norms[1], test.ShouldBeLessThan, 1e-9)
	test.That(t, norms[2], test.ShouldAlmostEqual, 1, 1e-9)
}

func TestPlaneResidual(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataStream.LiDARTopics = map[string]config.LiDARConfig{lidarTopic: {Type: "VLP_POINTS"}}
	s := newTestSolver(t, cfg, sensor.NewRegistry())
	setScale(s.Bundle(), r3.Vector{X: 1, Y: 2, Z: 3})

	b := newProblemBuilder(s, newState(s.Bundle(), s.Params(), s.structures))
	b.addPlanes(lidarTopic, []planeCorrespondence{
		{tm: 1, point: r3.Vector{Z: 1}, normal: r3.Vector{Z: 1}, center: r3.Vector{Z: 4}},
		{tm: 1, point: r3.Vector{Z: 1}, normal: r3.Vector{Z: 1}, center: r3.Vector{X: 7, Z: 3.5}},
	})
	test.That(t, b.err, test.ShouldBeNil)
	norms := residualNorms(b.families[familyPlane])
	test.That(t, norms, test.ShouldHaveLength, 2)
	test.That(t, norms[0], test.ShouldBeLessThan, 1e-9)
	test.That(t, norms[1], test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestReprojectionResidual(t *testing.T) {
	cfg := testConfig(t)
	withCamera(t, cfg)
	s := newTestSolver(t, cfg, sensor.NewRegistry())
	model, err := s.Params().Camera(camTopic)
	test.That(t, err, test.ShouldBeNil)

	structure := sfm.NewStructure()
	structure.Intrinsics[1] = model
	structure.Views[10] = &sfm.View{ID: 10, Timestamp: 1, IntrinsicID: 1}
	structure.Landmarks[1] = &sfm.Landmark{
		X:   r3.Vector{Z: 5},
		Obs: map[uint64]sfm.Observation{10: {X: r2.Point{X: 32, Y: 24}}},
	}
	structure.Landmarks[2] = &sfm.Landmark{
		X:   r3.Vector{X: 1, Z: 5},
		Obs: map[uint64]sfm.Observation{10: {X: r2.Point{X: 42, Y: 27}}},
	}
	s.structures[camTopic] = structure

	b := newProblemBuilder(s, newState(s.Bundle(), s.Params(), s.structures))
	b.addReprojection(camTopic, structure)
	test.That(t, b.err, test.ShouldBeNil)
	norms := residualNorms(b.families[familyReprojection])
	test.That(t, norms, test.ShouldHaveLength, 2)
	test.That(t, norms[0], test.ShouldBeLessThan, 1e-9)
	test.That(t, norms[1], test.ShouldAlmostEqual, 3, 1e-9)
}

func TestFitPlane(t *testing.T) {
	var pts []pointcloud.Point
	for _, xy := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.2}} {
		pts = append(pts, pointcloud.Point{Position: r3.Vector{X: xy[0], Y: xy[1], Z: 2}})
	}
	normal, center, ok := fitPlane(pts)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, normal.Z*normal.Z, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, center.Z, test.ShouldAlmostEqual, 2, 1e-9)

	var line []pointcloud.Point
	for i := 0; i < 5; i++ {
		line = append(line, pointcloud.Point{Position: r3.Vector{X: float64(i)}})
	}
	_, _, ok = fitPlane(line)
	test.That(t, ok, test.ShouldBeFalse)

	_, _, ok = fitPlane(pts[:2])
	test.That(t, ok, test.ShouldBeFalse)
}

func TestStrided(t *testing.T) {
	test.That(t, strided(10, 3), test.ShouldResemble, []int{0, 3, 6})
	test.That(t, strided(2, 5), test.ShouldResemble, []int{0, 1})
	test.That(t, strided(0, 5), test.ShouldBeEmpty)
}

func TestDebugCallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "epoch")
	test.That(t, utils.EnsureDir(dir), test.ShouldBeNil)
	stale := filepath.Join(dir, "param_9.json")
	test.That(t, os.WriteFile(stale, []byte("{}"), 0o600), test.ShouldBeNil)

	par, err := params.New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	d, err := NewDebugCallback(dir, par, config.FormatJSON)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, utils.FilesExist(stale), test.ShouldBeFalse)

	for i := 0; i < 2; i++ {
		ret, err := d.Invoke(estimator.IterationSummary{Iteration: i, Cost: 10, GradientNorm: 0.5, TrustRegionRadius: 1e4})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ret, test.ShouldEqual, estimator.Continue)
	}
	test.That(t, d.Close(), test.ShouldBeNil)

	test.That(t, utils.FilesExist(d.ParamFile(0), d.ParamFile(1)), test.ShouldBeTrue)
	loaded, err := params.Load(d.ParamFile(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.RunID, test.ShouldEqual, par.RunID)

	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, EpochInfoFile))
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 3)
	test.That(t, records[0], test.ShouldResemble, []string{"iteration", "cost", "gradient", "tr_radius(1/lambda)"})
	test.That(t, records[2], test.ShouldResemble, []string{"1", "10", "0.5", "10000"})
}

func TestProgressPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage", "plot.png")
	r := &progressRecorder{}
	test.That(t, r.savePlot(path, "empty"), test.ShouldBeNil)
	test.That(t, utils.FilesExist(path), test.ShouldBeFalse)

	for i := 0; i < 4; i++ {
		_, err := r.Invoke(estimator.IterationSummary{Iteration: i, Cost: 1 / float64(i+1), GradientNorm: 0})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, r.savePlot(path, "stage"), test.ShouldBeNil)
	test.That(t, utils.FilesExist(path), test.ShouldBeTrue)
}

func TestSolveInertial(t *testing.T) {
	const rate = 0.8
	cfg := testConfig(t)
	cfg.Preference.Outputs.ParamEachIter = true
	reg := sensor.NewRegistry()
	reg.AddIMU(imuTopic, spinningIMU(rate, cfg.Prior.GetGravityNorm())...)
	viewer := &fakeViewer{}
	s := newTestSolver(t, cfg, reg, WithViewer(viewer))

	test.That(t, s.Solve(context.Background()), test.ShouldBeNil)
	test.That(t, s.Finished(), test.ShouldBeTrue)
	test.That(t, s.State(), test.ShouldEqual, Finished)

	stages := s.StageSummaries()
	test.That(t, stages, test.ShouldHaveLength, 2)
	test.That(t, stages[0].Desc, test.ShouldEqual, StageRotation)
	test.That(t, stages[1].Desc, test.ShouldEqual, StageBatch)
	for _, st := range stages {
		test.That(t, st.Summary.IsSolutionUsable(), test.ShouldBeTrue)
		test.That(t, st.Summary.NumResidualBlocks, test.ShouldBeGreaterThan, 0)
	}
	last, ok := s.Summary()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.FinalCost, test.ShouldBeLessThanOrEqualTo, last.InitialCost)

	g := s.Params().Gravity
	test.That(t, g.X, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, g.Y, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, g.Z, test.ShouldAlmostEqual, -cfg.Prior.GetGravityNorm(), 1e-6)

	out := cfg.DataStream.GetOutputPath()
	test.That(t, utils.FilesExist(
		filepath.Join(out, "iteration", "stage", StageRotation+".json"),
		filepath.Join(out, "iteration", "stage", StageBatch+".json"),
		filepath.Join(out, "iteration", "stage", StageBatch+"_epoch_cost.png"),
		filepath.Join(out, "iteration", "epoch", EpochInfoFile),
		filepath.Join(out, "iteration", "epoch", "param_0.json"),
	), test.ShouldBeTrue)

	test.That(t, viewer.updates, test.ShouldBeGreaterThan, 0)
	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, viewer.quits, test.ShouldEqual, 0)
	test.That(t, viewer.closes, test.ShouldEqual, 1)
}

func TestSolveCanceled(t *testing.T) {
	cfg := testConfig(t)
	reg := sensor.NewRegistry()
	reg.AddIMU(imuTopic, spinningIMU(0.5, cfg.Prior.GetGravityNorm())...)
	viewer := &fakeViewer{}
	s := newTestSolver(t, cfg, reg, WithViewer(viewer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, s.Solve(ctx), test.ShouldNotBeNil)
	test.That(t, s.Finished(), test.ShouldBeFalse)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, viewer.quits, test.ShouldEqual, 1)
	test.That(t, viewer.closes, test.ShouldEqual, 1)
}

const (
	visualCameras = `# Camera list with one line of data per camera:
1 PINHOLE 64 48 50 50 32 24
`
	visualImages = `# Image list with two lines of data per image:
1 1 0 0 0 0 0 0 1 500.jpg
32 24 1
2 1 0 0 0 -1 0 0 1 1000.jpg
22 24 1
3 1 0 0 0 -2 0 0 1 1500.jpg
12 24 1
`
	visualPoints = `# 3D point list with one line of data per point:
1 0 0 5 255 0 0 0.5 1 0 2 0 3 0
`
)

func cameraRegistry() *sensor.Registry {
	reg := sensor.NewRegistry()
	for _, tm := range []float64{0.5, 1.0, 1.5} {
		reg.AddCamera(camTopic, sensor.NewCameraFrame(tm, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	}
	return reg
}

func writeReconstruction(t *testing.T, ws sfm.Workspace) {
	t.Helper()
	test.That(t, os.WriteFile(ws.Path(sfm.CamerasFile), []byte(visualCameras), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(ws.Path(sfm.ImagesFile), []byte(visualImages), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(ws.Path(sfm.Points3DFile), []byte(visualPoints), 0o600), test.ShouldBeNil)
}

func TestVisualHandOff(t *testing.T) {
	cfg := testConfig(t)
	withCamera(t, cfg)
	reg := cameraRegistry()
	s := newTestSolver(t, cfg, reg, WithClock(clock.NewMock()))
	ws := s.workspace(camTopic)

	structure, err := s.LoadVisualData(camTopic, 2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, structure, test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, SfMLoading)

	test.That(t, s.PrepareVisualData(context.Background(), camTopic, sfm.CandidatePairs([]uint64{500, 1000, 1500}, 1)),
		test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, SfMPreparing)
	for _, id := range []uint64{500, 1000, 1500} {
		test.That(t, utils.FilesExist(filepath.Join(ws.ImageDir(), sfm.ImageFileName(id))), test.ShouldBeTrue)
	}
	matches, err := os.ReadFile(ws.Path(sfm.MatchesFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(matches), test.ShouldEqual, "500.jpg 1000.jpg\n1000.jpg 1500.jpg\n")
	info, err := sfm.LoadImagesInfo(ws.InfoFile())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Images, test.ShouldHaveLength, 3)

	writeReconstruction(t, ws)
	structure, err = s.LoadVisualData(camTopic, 2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, structure, test.ShouldNotBeNil)
	test.That(t, structure.ViewIDs(), test.ShouldResemble, []uint64{500, 1000, 1500})
	test.That(t, structure.LandmarkIDs(), test.ShouldResemble, []uint64{1})
	loaded, ok := s.VisualStructure(camTopic)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, loaded, test.ShouldEqual, structure)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waited, err := s.WaitForVisualData(ctx, camTopic, 2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, waited.ViewIDs(), test.ShouldResemble, []uint64{500, 1000, 1500})
}

func TestPrepareVisualDataErrors(t *testing.T) {
	cfg := testConfig(t)
	withCamera(t, cfg)
	s := newTestSolver(t, cfg, sensor.NewRegistry())
	err := s.PrepareVisualData(context.Background(), camTopic, nil)
	test.That(t, errors.Is(err, sensor.ErrTopicMissing), test.ShouldBeTrue)

	reg := sensor.NewRegistry()
	reg.AddCamera(camTopic, sensor.NewCameraFrame(1, image.NewRGBA(image.Rect(0, 0, 10, 10))))
	s = newTestSolver(t, cfg, reg)
	test.That(t, s.PrepareVisualData(context.Background(), camTopic, nil), test.ShouldNotBeNil)
}

func TestWaitForVisualData(t *testing.T) {
	cfg := testConfig(t)
	withCamera(t, cfg)
	s := newTestSolver(t, cfg, cameraRegistry(), WithClock(clock.NewMock()))
	test.That(t, s.PrepareVisualData(context.Background(), camTopic, nil), test.ShouldBeNil)

	t.Run("gives up with the context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		structure, err := s.WaitForVisualData(ctx, camTopic, 2, 2)
		test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
		test.That(t, structure, test.ShouldBeNil)
	})

	t.Run("loads once artifacts appear", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		type result struct {
			structure *sfm.Structure
			err       error
		}
		done := make(chan result, 1)
		go func() {
			structure, err := s.WaitForVisualData(ctx, camTopic, 2, 2)
			done <- result{structure, err}
		}()
		time.Sleep(100 * time.Millisecond)
		writeReconstruction(t, s.workspace(camTopic))
		res := <-done
		test.That(t, res.err, test.ShouldBeNil)
		test.That(t, res.structure, test.ShouldNotBeNil)
		test.That(t, res.structure.LandmarkIDs(), test.ShouldResemble, []uint64{1})
	})
}

func TestVisualStructureHelpers(t *testing.T) {
	structure := sfm.NewStructure()
	structure.Poses[1] = spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	for i := uint64(0); i < 10; i++ {
		obs := map[uint64]sfm.Observation{}
		for v := uint64(0); v < 6; v++ {
			obs[v] = sfm.Observation{}
		}
		structure.Landmarks[i] = &sfm.Landmark{X: r3.Vector{Y: float64(i)}, Obs: obs}
	}

	TransformVisualStructure(structure, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1}), 2)
	test.That(t, structure.Poses[1].Point, test.ShouldResemble, r3.Vector{X: 2, Z: 1})
	test.That(t, structure.Landmarks[3].X, test.ShouldResemble, r3.Vector{Y: 6, Z: 1})

	DownsampleVisualStructure(structure, 4, 3)
	test.That(t, structure.Landmarks, test.ShouldHaveLength, 4)
	for _, lm := range structure.Landmarks {
		test.That(t, lm.Obs, test.ShouldHaveLength, 3)
	}
}

func TestLogViewer(t *testing.T) {
	s := newTestSolver(t, testConfig(t), sensor.NewRegistry())
	v := NewLogViewer(logging.NewTestLogger(t))
	cb := NewViewerCallback(v, s.Bundle(), s.Params())
	ret, err := cb.Invoke(estimator.IterationSummary{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ret, test.ShouldEqual, estimator.Continue)
	test.That(t, v.Updates(), test.ShouldEqual, 1)
	test.That(t, v.Close(), test.ShouldBeNil)
}
