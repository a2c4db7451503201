// Package calib estimates the extrinsics, time offsets and trajectory of a sensor rig by
// jointly fitting a continuous-time trajectory to every sensor's measurements.
//
// A Solver is created once over an aligned registry. Camera topics go through a visual hand-off
// with an external reconstruction tool (PrepareVisualData, then LoadVisualData once the tool has
// run) before Solve refines the parameter set in two stages: a rotation-only stage against the
// gyroscopes, after which the trajectory is aligned to gravity, and a full batch stage with every
// modality.
package calib

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/align"
	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/params"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spline"
)

// State is the phase a Solver is in.
type State int

// Solver phases.
const (
	Constructed State = iota
	SfMPreparing
	SfMLoading
	Optimizing
	Finished
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case SfMPreparing:
		return "sfm_preparing"
	case SfMLoading:
		return "sfm_loading"
	case Optimizing:
		return "optimizing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// An Option configures a Solver.
type Option func(*Solver)

// WithViewer attaches a viewer refreshed after every accepted iteration.
func WithViewer(v Viewer) Option {
	return func(s *Solver) {
		s.viewer = v
	}
}

// WithClock replaces the clock used while waiting for reconstruction artifacts.
func WithClock(c clock.Clock) Option {
	return func(s *Solver) {
		s.clock = c
	}
}

// Solver owns the trajectory of a calibration run and refines the parameter set against the
// aligned sensor streams.
type Solver struct {
	reg    *sensor.Registry
	window align.TimeWindow
	par    *params.ParamSet
	cfg    *config.Config
	logger logging.Logger
	bundle *spline.Bundle
	viewer Viewer
	clock  clock.Clock
	debug  *DebugCallback

	mu         sync.Mutex
	state      State
	finished   bool
	structures map[string]*sfm.Structure
	summaries  []StageSummary
}

// StageSummary is the outcome of one optimization stage.
type StageSummary struct {
	Desc    string
	Summary estimator.Summary
}

// NewSolver builds the trajectory over the calibration window of an aligned registry.
func NewSolver(
	reg *sensor.Registry,
	window align.TimeWindow,
	par *params.ParamSet,
	cfg *config.Config,
	logger logging.Logger,
	opts ...Option,
) (*Solver, error) {
	if window.CalibRange() <= 0 {
		return nil, errors.Errorf("calibration window [%f, %f] is empty", window.CalibStart(), window.CalibEnd())
	}
	if _, err := par.Extrinsic(cfg.DataStream.GetReferenceIMU()); err != nil {
		return nil, errors.Wrap(err, "reference imu")
	}
	scaleType := spline.ScaleTypeFor(
		cfg.DataStream.IsIntegrated(sensor.LiDAR),
		cfg.DataStream.IsIntegrated(sensor.Camera),
		cfg.DataStream.IsIntegrated(sensor.Radar),
	)
	so3Dt, scaleDt := cfg.Prior.GetSO3KnotDist(), cfg.Prior.GetScaleKnotDist()
	bundle, err := spline.Create(window.CalibStart(), window.CalibEnd(), so3Dt, scaleDt, scaleType)
	if err != nil {
		return nil, err
	}
	logger.Infof("create spline bundle: start time: '%.5f', end time: '%.5f', so3 dt: '%.5f', scale dt: '%.5f', scale type: %s",
		window.CalibStart(), window.CalibEnd(), so3Dt, scaleDt, scaleType)

	s := &Solver{
		reg:        reg,
		window:     window,
		par:        par,
		cfg:        cfg,
		logger:     logger,
		bundle:     bundle,
		viewer:     noopViewer{},
		clock:      clock.New(),
		structures: map[string]*sfm.Structure{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Preference.Outputs.ParamEachIter {
		s.debug, err = NewDebugCallback(s.epochDir(), par, cfg.Preference.GetOutputDataFormat())
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Bundle returns the trajectory.
func (s *Solver) Bundle() *spline.Bundle { return s.bundle }

// Params returns the parameter set refined by Solve.
func (s *Solver) Params() *params.ParamSet { return s.par }

// State returns the current phase.
func (s *Solver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Solver) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Finished reports whether Solve ran to completion.
func (s *Solver) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Summary returns the estimator summary of the last stage.
func (s *Solver) Summary() (estimator.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.summaries) == 0 {
		return estimator.Summary{}, false
	}
	return s.summaries[len(s.summaries)-1].Summary, true
}

// StageSummaries returns the summaries of every stage run so far.
func (s *Solver) StageSummaries() []StageSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageSummary(nil), s.summaries...)
}

// VisualStructure returns the structure loaded for a camera topic.
func (s *Solver) VisualStructure(topic string) (*sfm.Structure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.structures[topic]
	return st, ok
}

// Close tears down the viewer. When Solve did not finish the viewer is forced to quit first.
func (s *Solver) Close() error {
	var err error
	if s.debug != nil {
		err = s.debug.Close()
	}
	if !s.Finished() {
		s.viewer.Quit()
	}
	return errors.Wrap(multierr.Combine(err, s.viewer.Close()), "closing solver")
}

func (s *Solver) format() string {
	return s.cfg.Preference.GetOutputDataFormat()
}

func (s *Solver) outputPath() string {
	return s.cfg.DataStream.GetOutputPath()
}

func (s *Solver) stageDir() string {
	return filepath.Join(s.outputPath(), "iteration", "stage")
}

func (s *Solver) epochDir() string {
	return filepath.Join(s.outputPath(), "iteration", "epoch")
}

func (s *Solver) workspace(topic string) sfm.Workspace {
	return sfm.NewWorkspace(s.outputPath(), topic, s.format())
}
