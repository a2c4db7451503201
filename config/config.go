// Package config defines the calibration configuration and reads it from JSON or YAML files.
package config

import (
	"sort"

	"github.com/samber/lo"

	"go.viam.com/rigcalib/sensor"
)

// Output formats for persisted parameters.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Solver methods.
const (
	SolverLevenbergMarquardt = "levenberg_marquardt"
	SolverLBFGS              = "lbfgs"
)

// Linear solvers used by the trust region method.
const (
	LinearSolverDenseCholesky = "dense_cholesky"
	LinearSolverCGNR          = "cgnr"
)

// Config is the full description of one calibration run.
type Config struct {
	DataStream DataStream `json:"data_stream" yaml:"data_stream"`
	Prior      Prior      `json:"prior" yaml:"prior"`
	Preference Preference `json:"preference" yaml:"preference"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-" yaml:"-"`
}

// DataStream describes the recording and the sensors in it.
type DataStream struct {
	BagPath string `json:"bag_path" yaml:"bag_path"`
	// BeginTime and Duration crop the recording, in seconds relative to its first message.
	// Non-positive values disable cropping on that side.
	BeginTime  float64 `json:"begin_time" yaml:"begin_time"`
	Duration   float64 `json:"duration" yaml:"duration"`
	OutputPath string  `json:"output_path" yaml:"output_path"`

	ReferenceIMU string                  `json:"reference_imu" yaml:"reference_imu"`
	IMUTopics    map[string]IMUConfig    `json:"imu_topics" yaml:"imu_topics"`
	RadarTopics  map[string]RadarConfig  `json:"radar_topics,omitempty" yaml:"radar_topics,omitempty"`
	LiDARTopics  map[string]LiDARConfig  `json:"lidar_topics,omitempty" yaml:"lidar_topics,omitempty"`
	CameraTopics map[string]CameraConfig `json:"camera_topics,omitempty" yaml:"camera_topics,omitempty"`
}

// IMUConfig configures one IMU topic.
type IMUConfig struct {
	Type       string       `json:"type" yaml:"type"`
	AcceWeight float64      `json:"acce_weight" yaml:"acce_weight"`
	GyroWeight float64      `json:"gyro_weight" yaml:"gyro_weight"`
	Attributes AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// RadarConfig configures one radar topic.
type RadarConfig struct {
	Type       string       `json:"type" yaml:"type"`
	Weight     float64      `json:"weight" yaml:"weight"`
	Attributes AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// LiDARConfig configures one LiDAR topic.
type LiDARConfig struct {
	Type       string       `json:"type" yaml:"type"`
	Weight     float64      `json:"weight" yaml:"weight"`
	Attributes AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// CameraConfig configures one camera topic.
type CameraConfig struct {
	Type           string       `json:"type" yaml:"type"`
	Weight         float64      `json:"weight" yaml:"weight"`
	IntrinsicsFile string       `json:"intrinsics_file" yaml:"intrinsics_file"`
	Attributes     AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// KnotTimeDist is the knot spacing of each trajectory spline, in seconds.
type KnotTimeDist struct {
	SO3Spline   float64 `json:"so3_spline" yaml:"so3_spline"`
	ScaleSpline float64 `json:"scale_spline" yaml:"scale_spline"`
}

// SfMPrior holds the thresholds applied to the external reconstruction.
type SfMPrior struct {
	ReprojErrorThd    float64 `json:"reproj_error_thd" yaml:"reproj_error_thd"`
	TrackLenThd       int     `json:"track_len_thd" yaml:"track_len_thd"`
	MaxLandmarks      int     `json:"max_landmarks" yaml:"max_landmarks"`
	MaxObsPerLandmark int     `json:"max_obs_per_landmark" yaml:"max_obs_per_landmark"`
	// MatchWindow is the number of following frames each image is paired with for matching.
	MatchWindow int `json:"match_window" yaml:"match_window"`
}

// Prior holds physical priors and estimation tuning.
type Prior struct {
	GravityNorm       float64      `json:"gravity_norm" yaml:"gravity_norm"`
	TimeOffsetPadding float64      `json:"time_offset_padding" yaml:"time_offset_padding"`
	KnotTimeDist      KnotTimeDist `json:"knot_time_dist" yaml:"knot_time_dist"`
	MapVoxelSize      float64      `json:"map_voxel_size" yaml:"map_voxel_size"`
	LossThreshold     float64      `json:"loss_threshold" yaml:"loss_threshold"`
	SfM               SfMPrior     `json:"sfm" yaml:"sfm"`
}

// Outputs selects the optional artifacts written during a run.
type Outputs struct {
	ParamEachIter bool  `json:"param_each_iter" yaml:"param_each_iter"`
	StageParams   *bool `json:"stage_params,omitempty" yaml:"stage_params,omitempty"`
	ProgressPlot  *bool `json:"progress_plot,omitempty" yaml:"progress_plot,omitempty"`
	LiDARMap      bool  `json:"lidar_map" yaml:"lidar_map"`
}

// Preference holds run preferences that do not change the estimate.
type Preference struct {
	OutputDataFormat string  `json:"output_data_format" yaml:"output_data_format"`
	Outputs          Outputs `json:"outputs" yaml:"outputs"`
	Threads          int     `json:"threads" yaml:"threads"`
	MaxIterations    int     `json:"max_iterations" yaml:"max_iterations"`
	SolverMethod     string  `json:"solver_method" yaml:"solver_method"`
	LinearSolver     string  `json:"linear_solver" yaml:"linear_solver"`
	Visualization    bool    `json:"visualization" yaml:"visualization"`
	LogLevel         string  `json:"log_level" yaml:"log_level"`
}

// Topics returns the sorted configured topics of every modality.
func (ds DataStream) Topics() map[sensor.Modality][]string {
	sorted := func(keys []string) []string {
		sort.Strings(keys)
		return keys
	}
	topics := map[sensor.Modality][]string{
		sensor.IMU:    sorted(lo.Keys(ds.IMUTopics)),
		sensor.Radar:  sorted(lo.Keys(ds.RadarTopics)),
		sensor.LiDAR:  sorted(lo.Keys(ds.LiDARTopics)),
		sensor.Camera: sorted(lo.Keys(ds.CameraTopics)),
	}
	return topics
}

// AllTopics returns every configured topic.
func (ds DataStream) AllTopics() []string {
	var all []string
	for _, m := range sensor.Modalities {
		all = append(all, ds.Topics()[m]...)
	}
	return all
}

// IsIntegrated reports whether any topic of the modality is configured.
func (ds DataStream) IsIntegrated(m sensor.Modality) bool {
	return len(ds.Topics()[m]) > 0
}

// TopicType returns the sensor model configured for a topic and its modality.
func (ds DataStream) TopicType(topic string) (string, sensor.Modality, bool) {
	if c, ok := ds.IMUTopics[topic]; ok {
		return c.Type, sensor.IMU, true
	}
	if c, ok := ds.RadarTopics[topic]; ok {
		return c.Type, sensor.Radar, true
	}
	if c, ok := ds.LiDARTopics[topic]; ok {
		return c.Type, sensor.LiDAR, true
	}
	if c, ok := ds.CameraTopics[topic]; ok {
		return c.Type, sensor.Camera, true
	}
	return "", 0, false
}
