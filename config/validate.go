package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/logging"
)

// Validate returns every problem of the config at once.
func (c *Config) Validate() error {
	var errs error
	ds := c.DataStream
	if ds.BagPath == "" {
		errs = multierr.Append(errs, errors.New("data_stream.bag_path is required"))
	}
	if len(ds.IMUTopics) == 0 {
		errs = multierr.Append(errs, errors.New("data_stream.imu_topics needs at least one topic"))
	}
	if ds.ReferenceIMU != "" {
		if _, ok := ds.IMUTopics[ds.ReferenceIMU]; !ok {
			errs = multierr.Append(errs, errors.Errorf("reference imu %q is not an imu topic", ds.ReferenceIMU))
		}
	}
	seen := map[string]string{}
	for m, topics := range ds.Topics() {
		for _, topic := range topics {
			if other, dup := seen[topic]; dup {
				errs = multierr.Append(errs, errors.Errorf("topic %q configured as both %s and %s", topic, other, m))
			}
			seen[topic] = m.String()
			if model, _, _ := ds.TopicType(topic); model == "" {
				errs = multierr.Append(errs, errors.Errorf("%s topic %q has no type", m, topic))
			}
		}
	}
	for topic, cam := range ds.CameraTopics {
		if cam.IntrinsicsFile == "" {
			errs = multierr.Append(errs, errors.Errorf("camera topic %q has no intrinsics_file", topic))
		}
	}
	if ds.BeginTime < 0 || ds.Duration < 0 {
		errs = multierr.Append(errs, errors.New("data_stream.begin_time and duration must be non-negative"))
	}

	p := c.Prior
	if p.TimeOffsetPadding < 0 {
		errs = multierr.Append(errs, errors.Errorf("prior.time_offset_padding must be non-negative, got %v", p.TimeOffsetPadding))
	}
	if p.KnotTimeDist.SO3Spline < 0 || p.KnotTimeDist.ScaleSpline < 0 {
		errs = multierr.Append(errs, errors.New("prior.knot_time_dist values must be positive"))
	}
	if p.SfM.TrackLenThd < 0 || p.SfM.MaxLandmarks < 0 || p.SfM.MaxObsPerLandmark < 0 {
		errs = multierr.Append(errs, errors.New("prior.sfm thresholds must be non-negative"))
	}

	pref := c.Preference
	switch pref.GetOutputDataFormat() {
	case FormatJSON, FormatYAML:
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown output_data_format %q", pref.OutputDataFormat))
	}
	switch pref.GetSolverMethod() {
	case SolverLevenbergMarquardt, SolverLBFGS:
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown solver_method %q", pref.SolverMethod))
	}
	switch pref.GetLinearSolver() {
	case LinearSolverDenseCholesky, LinearSolverCGNR:
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown linear_solver %q", pref.LinearSolver))
	}
	if pref.LogLevel != "" {
		if _, err := logging.LevelFromString(pref.LogLevel); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// FormatExtension returns the file extension, with its dot, of an output format.
func FormatExtension(format string) string {
	return fmt.Sprintf(".%s", format)
}
