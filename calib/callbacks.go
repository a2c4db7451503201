package calib

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/params"
	"go.viam.com/rigcalib/spline"
	"go.viam.com/rigcalib/utils"
)

// EpochInfoFile holds the per iteration solver progress written by DebugCallback.
const EpochInfoFile = "epoch_info.csv"

// Viewer displays the trajectory and the parameters while the solver runs.
type Viewer interface {
	// Update refreshes the display. It runs on the solver goroutine.
	Update(b *spline.Bundle, par *params.ParamSet) error
	// Quit asks the viewer to stop without waiting for the user.
	Quit()
	// Close blocks until the viewer is gone.
	Close() error
}

type noopViewer struct{}

func (noopViewer) Update(*spline.Bundle, *params.ParamSet) error { return nil }
func (noopViewer) Quit()                                         {}
func (noopViewer) Close() error                                  { return nil }

// LogViewer reports the parameters through a logger on every update.
type LogViewer struct {
	logger  logging.Logger
	updates int
}

// NewLogViewer returns a viewer writing to logger at debug level.
func NewLogViewer(logger logging.Logger) *LogViewer {
	return &LogViewer{logger: logger}
}

// Update logs the current parameter table.
func (v *LogViewer) Update(b *spline.Bundle, par *params.ParamSet) error {
	v.updates++
	v.logger.Debugf("update %d, trajectory [%.3f, %.3f]\n%s", v.updates, b.MinTime(), b.MaxTime(), par.Table())
	return nil
}

// Quit does nothing.
func (v *LogViewer) Quit() {}

// Close does nothing.
func (v *LogViewer) Close() error { return nil }

// Updates returns how many times the viewer was refreshed.
func (v *LogViewer) Updates() int { return v.updates }

// ViewerCallback refreshes a viewer after every accepted iteration.
type ViewerCallback struct {
	viewer Viewer
	bundle *spline.Bundle
	par    *params.ParamSet
}

// NewViewerCallback returns a callback updating v with the given trajectory and parameters.
func NewViewerCallback(v Viewer, b *spline.Bundle, par *params.ParamSet) *ViewerCallback {
	return &ViewerCallback{viewer: v, bundle: b, par: par}
}

// Invoke implements estimator.IterationCallback.
func (c *ViewerCallback) Invoke(estimator.IterationSummary) (estimator.CallbackReturn, error) {
	return estimator.Continue, c.viewer.Update(c.bundle, c.par)
}

// DebugCallback saves the parameter set after every accepted iteration, along with the
// solver progress, into an epoch directory that is recreated on construction.
type DebugCallback struct {
	dir    string
	format string
	par    *params.ParamSet
	file   *os.File
	w      *csv.Writer
	idx    int
}

// NewDebugCallback resets dir and starts its epoch info file.
func NewDebugCallback(dir string, par *params.ParamSet, format string) (*DebugCallback, error) {
	if err := utils.ResetDir(dir); err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Create(filepath.Join(dir, EpochInfoFile))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create epoch info file")
	}
	d := &DebugCallback{dir: dir, format: format, par: par, file: f, w: csv.NewWriter(f)}
	if err := d.write([]string{"iteration", "cost", "gradient", "tr_radius(1/lambda)"}); err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	return d, nil
}

func (d *DebugCallback) write(record []string) error {
	if err := d.w.Write(record); err != nil {
		return err
	}
	d.w.Flush()
	return d.w.Error()
}

// ParamFile is the parameter file written for iteration idx.
func (d *DebugCallback) ParamFile(idx int) string {
	return filepath.Join(d.dir, fmt.Sprintf("param_%d%s", idx, config.FormatExtension(d.format)))
}

// Invoke implements estimator.IterationCallback.
func (d *DebugCallback) Invoke(is estimator.IterationSummary) (estimator.CallbackReturn, error) {
	if err := d.par.Save(d.ParamFile(d.idx), d.format); err != nil {
		return estimator.Abort, err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	if err := d.write([]string{strconv.Itoa(d.idx), f(is.Cost), f(is.GradientNorm), f(is.TrustRegionRadius)}); err != nil {
		return estimator.Abort, err
	}
	d.idx++
	return estimator.Continue, nil
}

// Close closes the epoch info file.
func (d *DebugCallback) Close() error {
	d.w.Flush()
	return multierr.Combine(d.w.Error(), d.file.Close())
}

// syncCallback copies the estimator blocks into the trajectory and the parameter set so that
// the callbacks after it observe the latest values.
type syncCallback struct {
	s  *Solver
	st *state
}

func (c syncCallback) Invoke(estimator.IterationSummary) (estimator.CallbackReturn, error) {
	c.st.writeBack(c.s.bundle, c.s.par, c.s.structures)
	return estimator.Continue, nil
}
