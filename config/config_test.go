package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/sensor"
)

const yamlConfig = `
data_stream:
  bag_path: ${RIGCALIB_TEST_BAG}
  output_path: /tmp/out
  begin_time: 2
  imu_topics:
    /imu0:
      type: SENSOR_IMU
      acce_weight: 10
    /imu1:
      type: SENSOR_IMU_G
  lidar_topics:
    /points:
      type: OUSTER_POINTS
      attributes:
        time_field: t
        time_scale: "1e-9"
  camera_topics:
    /cam:
      type: SENSOR_IMAGE_COMP_GS
      intrinsics_file: cam.json
      attributes:
        match_window: 3
prior:
  time_offset_padding: 0.1
  knot_time_dist:
    so3_spline: 0.05
preference:
  output_data_format: json
  outputs:
    stage_params: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestReadYAML(t *testing.T) {
	t.Setenv("RIGCALIB_TEST_BAG", "/data/rig.bag")
	cfg, err := Read(writeFile(t, "cfg.yaml", yamlConfig), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ds := cfg.DataStream
	test.That(t, ds.BagPath, test.ShouldEqual, "/data/rig.bag")
	test.That(t, ds.BeginTime, test.ShouldEqual, 2.0)
	test.That(t, ds.ReferenceIMU, test.ShouldEqual, "/imu0")
	test.That(t, ds.Topics()[sensor.IMU], test.ShouldResemble, []string{"/imu0", "/imu1"})
	test.That(t, ds.IsIntegrated(sensor.LiDAR), test.ShouldBeTrue)
	test.That(t, ds.IsIntegrated(sensor.Radar), test.ShouldBeFalse)
	test.That(t, ds.AllTopics(), test.ShouldResemble, []string{"/imu0", "/imu1", "/points", "/cam"})
	test.That(t, ds.IMUTopics["/imu0"].GetAcceWeight(), test.ShouldEqual, 10.0)
	test.That(t, ds.IMUTopics["/imu0"].GetGyroWeight(), test.ShouldEqual, 1.0)

	model, m, ok := ds.TopicType("/points")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, model, test.ShouldEqual, "OUSTER_POINTS")
	test.That(t, m, test.ShouldEqual, sensor.LiDAR)
	_, _, ok = ds.TopicType("/nope")
	test.That(t, ok, test.ShouldBeFalse)

	attrs := ds.LiDARTopics["/points"].Attributes
	test.That(t, attrs.String("time_field", ""), test.ShouldEqual, "t")
	test.That(t, attrs.Float64("time_scale", 1), test.ShouldEqual, 1e-9)
	test.That(t, ds.CameraTopics["/cam"].Attributes.Int("match_window", 0), test.ShouldEqual, 3)

	test.That(t, cfg.Prior.GetSO3KnotDist(), test.ShouldEqual, 0.05)
	test.That(t, cfg.Prior.GetScaleKnotDist(), test.ShouldEqual, DefaultScaleKnotDist)
	test.That(t, cfg.Prior.GetGravityNorm(), test.ShouldEqual, DefaultGravityNorm)
	test.That(t, cfg.Preference.GetOutputDataFormat(), test.ShouldEqual, FormatJSON)
	test.That(t, cfg.Preference.Outputs.GetStageParams(), test.ShouldBeFalse)
	test.That(t, cfg.Preference.Outputs.GetProgressPlot(), test.ShouldBeTrue)
	test.That(t, cfg.Preference.GetThreads(), test.ShouldBeGreaterThan, 0)
}

func TestReadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{
		"data_stream": {
			"bag_path": "rig.bag",
			"reference_imu": "/imu",
			"imu_topics": {"/imu": {"type": "SENSOR_IMU"}},
			"radar_topics": {"/radar": {"type": "AWR1843BOOST_RAW", "weight": 2}}
		}
	}`)
	cfg, err := Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.DataStream.RadarTopics["/radar"].GetWeight(), test.ShouldEqual, 2.0)
	test.That(t, cfg.DataStream.GetOutputPath(), test.ShouldEqual, DefaultOutputPath)
	test.That(t, cfg.Preference.GetOutputDataFormat(), test.ShouldEqual, FormatYAML)

	_, err = Read(writeFile(t, "bad.json", `{"data_stream": [`), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DataStream: DataStream{
			ReferenceIMU: "/cam",
			RadarTopics:  map[string]RadarConfig{"/cam": {Type: "RADAR_TARGET_ARRAY"}},
			CameraTopics: map[string]CameraConfig{"/cam": {Type: "SENSOR_IMAGE_GS"}},
		},
		Prior:      Prior{TimeOffsetPadding: -1},
		Preference: Preference{OutputDataFormat: "xml", SolverMethod: "newton", LogLevel: "loud"},
	}
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	msg := err.Error()
	for _, want := range []string{
		"bag_path",
		"imu_topics",
		`reference imu "/cam"`,
		"configured as both",
		"intrinsics_file",
		"time_offset_padding",
		`"xml"`,
		`"newton"`,
	} {
		test.That(t, strings.Contains(msg, want), test.ShouldBeTrue)
	}
}

func TestAttributeDecode(t *testing.T) {
	var out struct {
		TimeField string  `json:"time_field"`
		TimeScale float64 `json:"time_scale"`
	}
	am := AttributeMap{"time_field": "offset_time", "time_scale": "0.001"}
	test.That(t, am.Decode(&out), test.ShouldBeNil)
	test.That(t, out.TimeField, test.ShouldEqual, "offset_time")
	test.That(t, out.TimeScale, test.ShouldEqual, 0.001)
	test.That(t, am.Has("time_scale"), test.ShouldBeTrue)
	test.That(t, am.Float64("missing", 4), test.ShouldEqual, 4.0)
	test.That(t, AttributeMap{"x": "abc"}.Int("x", 7), test.ShouldEqual, 7)
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(schema), test.ShouldContainSubstring, "data_stream")
}
