// Package params holds the calibration parameter set refined by the solver: per-sensor extrinsics
// and time offsets, the gravity vector and sensor intrinsics.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/rimage/transform"
	"go.viam.com/rigcalib/spatialmath"
)

// ErrUnknownTopic is returned when a topic has no parameters.
var ErrUnknownTopic = errors.New("no calibration parameters for topic")

// NewUnknownTopicError wraps ErrUnknownTopic with the topic.
func NewUnknownTopicError(topic string) error {
	return errors.Wrapf(ErrUnknownTopic, "topic %q", topic)
}

// IMUIntrinsics are the additive biases of an IMU.
type IMUIntrinsics struct {
	GyroBias r3.Vector `json:"gyro_bias" yaml:"gyro_bias"`
	AcceBias r3.Vector `json:"acce_bias" yaml:"acce_bias"`
}

// ParamSet is the mutable calibration state. Extrinsics map each sensor frame into the
// reference IMU frame and time offsets map each sensor clock onto the reference clock:
// t_ref = t_sensor + offset.
type ParamSet struct {
	RunID         string                                   `json:"run_id" yaml:"run_id"`
	ReferenceIMU  string                                   `json:"reference_imu" yaml:"reference_imu"`
	Extrinsics    map[string]spatialmath.Pose              `json:"extrinsics" yaml:"extrinsics"`
	TimeOffsets   map[string]float64                       `json:"time_offsets" yaml:"time_offsets"`
	Gravity       r3.Vector                                `json:"gravity" yaml:"gravity"`
	IMUIntrinsics map[string]IMUIntrinsics                 `json:"imu_intrinsics" yaml:"imu_intrinsics"`
	Cameras       map[string]*transform.PinholeCameraModel `json:"cameras,omitempty" yaml:"cameras,omitempty"`
}

// New returns identity extrinsics and zero offsets for every configured topic, gravity pointing
// down the reference z axis, and camera intrinsics loaded from each camera's intrinsics file.
func New(cfg *config.Config) (*ParamSet, error) {
	ds := cfg.DataStream
	ps := &ParamSet{
		RunID:         uuid.NewString(),
		ReferenceIMU:  ds.GetReferenceIMU(),
		Extrinsics:    map[string]spatialmath.Pose{},
		TimeOffsets:   map[string]float64{},
		Gravity:       r3.Vector{Z: -cfg.Prior.GetGravityNorm()},
		IMUIntrinsics: map[string]IMUIntrinsics{},
		Cameras:       map[string]*transform.PinholeCameraModel{},
	}
	for _, topic := range ds.AllTopics() {
		ps.Extrinsics[topic] = spatialmath.NewZeroPose()
		ps.TimeOffsets[topic] = 0
	}
	for topic := range ds.IMUTopics {
		ps.IMUIntrinsics[topic] = IMUIntrinsics{}
	}
	for topic, camCfg := range ds.CameraTopics {
		path := camCfg.IntrinsicsFile
		if !filepath.IsAbs(path) && cfg.ConfigFilePath != "" {
			path = filepath.Join(filepath.Dir(cfg.ConfigFilePath), path)
		}
		model, err := transform.NewPinholeCameraModelFromFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "camera topic %q", topic)
		}
		ps.Cameras[topic] = model
	}
	return ps, nil
}

// Extrinsic returns the sensor to reference transform of a topic.
func (ps *ParamSet) Extrinsic(topic string) (spatialmath.Pose, error) {
	p, ok := ps.Extrinsics[topic]
	if !ok {
		return spatialmath.Pose{}, NewUnknownTopicError(topic)
	}
	return p, nil
}

// TimeOffset returns the clock offset of a topic.
func (ps *ParamSet) TimeOffset(topic string) (float64, error) {
	o, ok := ps.TimeOffsets[topic]
	if !ok {
		return 0, NewUnknownTopicError(topic)
	}
	return o, nil
}

// Camera returns the camera model of a topic.
func (ps *ParamSet) Camera(topic string) (*transform.PinholeCameraModel, error) {
	c, ok := ps.Cameras[topic]
	if !ok || c == nil {
		return nil, NewUnknownTopicError(topic)
	}
	return c, nil
}

// IMU returns the biases of an IMU topic.
func (ps *ParamSet) IMU(topic string) (IMUIntrinsics, error) {
	in, ok := ps.IMUIntrinsics[topic]
	if !ok {
		return IMUIntrinsics{}, NewUnknownTopicError(topic)
	}
	return in, nil
}

// Topics returns every topic with an extrinsic, sorted.
func (ps *ParamSet) Topics() []string {
	topics := lo.Keys(ps.Extrinsics)
	sort.Strings(topics)
	return topics
}

// Snapshot returns a deep copy.
func (ps *ParamSet) Snapshot() *ParamSet {
	cp := &ParamSet{
		RunID:         ps.RunID,
		ReferenceIMU:  ps.ReferenceIMU,
		Extrinsics:    make(map[string]spatialmath.Pose, len(ps.Extrinsics)),
		TimeOffsets:   make(map[string]float64, len(ps.TimeOffsets)),
		Gravity:       ps.Gravity,
		IMUIntrinsics: make(map[string]IMUIntrinsics, len(ps.IMUIntrinsics)),
		Cameras:       make(map[string]*transform.PinholeCameraModel, len(ps.Cameras)),
	}
	for k, v := range ps.Extrinsics {
		cp.Extrinsics[k] = v
	}
	for k, v := range ps.TimeOffsets {
		cp.TimeOffsets[k] = v
	}
	for k, v := range ps.IMUIntrinsics {
		cp.IMUIntrinsics[k] = v
	}
	for k, v := range ps.Cameras {
		cp.Cameras[k] = v.Clone()
	}
	return cp
}

// Save writes the parameter set in the given format, json or yaml.
func (ps *ParamSet) Save(path, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case config.FormatJSON:
		data, err = json.MarshalIndent(ps, "", "  ")
	case config.FormatYAML:
		data, err = yaml.Marshal(ps)
	default:
		return errors.Errorf("unsupported output data format %q", format)
	}
	if err != nil {
		return errors.Wrap(err, "cannot serialize parameters")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "cannot create directory for %q", path)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "cannot write parameters to %q", path)
}

// Load reads a parameter set written by Save. The format follows the file extension.
func Load(path string) (*ParamSet, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read parameters from %q", path)
	}
	ps := &ParamSet{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, ps)
	default:
		err = json.Unmarshal(data, ps)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse parameters from %q", path)
	}
	return ps, nil
}

// Table renders the extrinsics and time offsets for the console.
func (ps *ParamSet) Table() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Topic", "Translation (m)", "Rotation vector (deg)", "Time offset (s)"})
	for _, topic := range ps.Topics() {
		p := ps.Extrinsics[topic]
		rv := spatialmath.LogSO3(p.Orientation).Mul(180 / math.Pi)
		t.AppendRow(table.Row{
			topic,
			fmt.Sprintf("%+.4f %+.4f %+.4f", p.Point.X, p.Point.Y, p.Point.Z),
			fmt.Sprintf("%+.3f %+.3f %+.3f", rv.X, rv.Y, rv.Z),
			fmt.Sprintf("%+.6f", ps.TimeOffsets[topic]),
		})
	}
	t.AppendFooter(table.Row{"gravity", fmt.Sprintf("%+.4f %+.4f %+.4f", ps.Gravity.X, ps.Gravity.Y, ps.Gravity.Z), "", ""})
	return t.Render()
}
