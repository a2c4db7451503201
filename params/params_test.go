package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/spatialmath"
)

const intrinsicsJSON = `{
  "intrinsic_parameters": {"width_px": 640, "height_px": 480, "fx": 500, "fy": 500, "ppx": 320, "ppy": 240},
  "distortion": {"type": "brown_conrady", "parameters": [0.01, -0.002]}
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "cam.json"), []byte(intrinsicsJSON), 0o600), test.ShouldBeNil)
	return &config.Config{
		ConfigFilePath: filepath.Join(dir, "rig.yaml"),
		DataStream: config.DataStream{
			BagPath:      "rig.bag",
			IMUTopics:    map[string]config.IMUConfig{"/imu0": {Type: "SENSOR_IMU"}, "/imu1": {Type: "SENSOR_IMU"}},
			LiDARTopics:  map[string]config.LiDARConfig{"/points": {Type: "VLP_POINTS"}},
			CameraTopics: map[string]config.CameraConfig{"/cam": {Type: "SENSOR_IMAGE_GS", IntrinsicsFile: "cam.json"}},
		},
	}
}

func TestNew(t *testing.T) {
	ps, err := New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ps.RunID, test.ShouldNotBeEmpty)
	test.That(t, ps.ReferenceIMU, test.ShouldEqual, "/imu0")
	test.That(t, ps.Topics(), test.ShouldResemble, []string{"/cam", "/imu0", "/imu1", "/points"})
	test.That(t, ps.Gravity, test.ShouldResemble, r3.Vector{Z: -config.DefaultGravityNorm})

	ext, err := ps.Extrinsic("/points")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(ext, spatialmath.NewZeroPose(), 0, 0), test.ShouldBeTrue)

	cam, err := ps.Camera("/cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Fx, test.ShouldEqual, 500.)

	_, err = ps.IMU("/imu1")
	test.That(t, err, test.ShouldBeNil)
}

func TestNewMissingIntrinsics(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataStream.CameraTopics["/cam"] = config.CameraConfig{Type: "SENSOR_IMAGE_GS", IntrinsicsFile: "nope.json"}
	_, err := New(cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "/cam")
}

func TestUnknownTopic(t *testing.T) {
	ps, err := New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = ps.Extrinsic("/nope")
	test.That(t, errors.Is(err, ErrUnknownTopic), test.ShouldBeTrue)
	_, err = ps.TimeOffset("/nope")
	test.That(t, errors.Is(err, ErrUnknownTopic), test.ShouldBeTrue)
	_, err = ps.Camera("/imu0")
	test.That(t, errors.Is(err, ErrUnknownTopic), test.ShouldBeTrue)
	_, err = ps.IMU("/cam")
	test.That(t, errors.Is(err, ErrUnknownTopic), test.ShouldBeTrue)
}

func TestSnapshotIsDeep(t *testing.T) {
	ps, err := New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	snap := ps.Snapshot()

	ps.TimeOffsets["/points"] = 0.5
	ps.Extrinsics["/points"] = spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	ps.Cameras["/cam"].Fx = 1

	test.That(t, snap.TimeOffsets["/points"], test.ShouldEqual, 0.)
	test.That(t, snap.Extrinsics["/points"].Point.X, test.ShouldEqual, 0.)
	test.That(t, snap.Cameras["/cam"].Fx, test.ShouldEqual, 500.)
	test.That(t, snap.RunID, test.ShouldEqual, ps.RunID)
}

func TestSaveLoad(t *testing.T) {
	ps, err := New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	rot := spatialmath.ExpSO3(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3})
	ps.Extrinsics["/points"] = spatialmath.NewPose(rot, r3.Vector{X: 0.1, Y: 0.2, Z: -0.3})
	ps.TimeOffsets["/cam"] = -0.012
	ps.IMUIntrinsics["/imu1"] = IMUIntrinsics{GyroBias: r3.Vector{X: 0.001}}

	for _, format := range []string{config.FormatJSON, config.FormatYAML} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "param"+config.FormatExtension(format))
			test.That(t, ps.Save(path, format), test.ShouldBeNil)

			loaded, err := Load(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, loaded.RunID, test.ShouldEqual, ps.RunID)
			test.That(t, loaded.TimeOffsets, test.ShouldResemble, ps.TimeOffsets)
			test.That(t, spatialmath.PoseAlmostEqual(loaded.Extrinsics["/points"], ps.Extrinsics["/points"], 1e-12, 1e-9),
				test.ShouldBeTrue)
			test.That(t, loaded.IMUIntrinsics["/imu1"].GyroBias.X, test.ShouldEqual, 0.001)
			test.That(t, loaded.Cameras["/cam"].Ppx, test.ShouldEqual, 320.)
			test.That(t, loaded.Cameras["/cam"].Distortion.Parameters, test.ShouldResemble, []float64{0.01, -0.002})
		})
	}

	err = ps.Save(filepath.Join(t.TempDir(), "param.toml"), "toml")
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported")
}

func TestTable(t *testing.T) {
	ps, err := New(testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	ps.Extrinsics["/points"] = spatialmath.NewPose(quat.Number{Real: 1}, r3.Vector{X: 1.5})
	out := ps.Table()
	test.That(t, out, test.ShouldContainSubstring, "/points")
	test.That(t, out, test.ShouldContainSubstring, "+1.5000")
	test.That(t, out, test.ShouldContainSubstring, "GRAVITY")
}
