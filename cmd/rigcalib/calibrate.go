package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/align"
	"go.viam.com/rigcalib/calib"
	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/dataset"
	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/params"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/utils"
)

const (
	flagConfig  = "config"
	flagWaitSfM = "wait-sfm"
	flagDebug   = "debug"

	logFileName   = "rigcalib.log"
	paramFileStem = "rigcalib_param"
)

// SchemaAction prints the JSON schema of the calibration configuration.
func SchemaAction(c *cli.Context) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(schema))
	return err
}

// CalibrateAction runs a calibration from the config passed with --config.
func CalibrateAction(c *cli.Context) error {
	path := c.String(flagConfig)
	if path == "" {
		return errors.Errorf("no calibration config given, pass --%s", flagConfig)
	}
	cfg, err := config.Read(path, logger)
	if err != nil {
		return err
	}
	switch {
	case c.Bool(flagDebug):
		logger.SetLevel(logging.DEBUG)
	case cfg.Preference.LogLevel != "":
		level, err := logging.LevelFromString(cfg.Preference.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}

	out := cfg.DataStream.GetOutputPath()
	if err := utils.EnsureDir(out); err != nil {
		return err
	}
	appender, closer := logging.NewFileAppender(filepath.Join(out, logFileName))
	logger.AddAppender(appender)
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Debugw("closing log file", "error", err)
		}
	}()

	return calibrate(c.Context, cfg, c.Bool(flagWaitSfM), logger)
}

func calibrate(ctx context.Context, cfg *config.Config, waitSfM bool, logger logging.Logger) (err error) {
	reg, err := dataset.Load(cfg.DataStream, logger.Sublogger("dataset"), decodeProgress)
	if err != nil {
		return err
	}
	window, err := align.Align(reg, cfg.Prior.TimeOffsetPadding, logger.Sublogger("align"))
	if err != nil {
		return err
	}
	par, err := params.New(cfg)
	if err != nil {
		return err
	}

	var opts []calib.Option
	if cfg.Preference.Visualization {
		opts = append(opts, calib.WithViewer(calib.NewLogViewer(logger.Sublogger("viewer"))))
	}
	solver, err := calib.NewSolver(reg, window, par, cfg, logger.Sublogger("solver"), opts...)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(solver))

	pending, err := prepareCameras(ctx, solver, reg, cfg, waitSfM)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		for _, topic := range pending {
			ws := sfm.NewWorkspace(cfg.DataStream.GetOutputPath(), topic, cfg.Preference.GetOutputDataFormat())
			logger.Infof("run the reconstruction of camera '%s' as described in '%s'", topic, ws.Path(sfm.CommandLogFile))
		}
		logger.Infof("rerun rigcalib once every reconstruction is done, or pass --%s to wait for them", flagWaitSfM)
		return nil
	}

	if err := solver.Solve(ctx); err != nil {
		return err
	}
	format := cfg.Preference.GetOutputDataFormat()
	path := filepath.Join(cfg.DataStream.GetOutputPath(), paramFileStem+config.FormatExtension(format))
	if err := par.Save(path, format); err != nil {
		return err
	}
	pterm.Success.Printfln("calibration parameters saved to '%s'", path)
	return nil
}

// prepareCameras loads the reconstruction of every camera topic. Topics without one get their
// frames exported for the external tool; they are waited for when wait is set and returned as
// pending otherwise.
func prepareCameras(
	ctx context.Context,
	solver *calib.Solver,
	reg *sensor.Registry,
	cfg *config.Config,
	wait bool,
) ([]string, error) {
	prior := cfg.Prior.SfM
	var missing []string
	for _, topic := range reg.Topics(sensor.Camera) {
		structure, err := solver.LoadVisualData(topic, prior.GetReprojErrorThd(), prior.GetTrackLenThd())
		if err != nil {
			return nil, err
		}
		if structure != nil {
			continue
		}
		ids := lo.Map(reg.Camera(topic), func(f *sensor.CameraFrame, _ int) uint64 { return f.ID })
		if err := solver.PrepareVisualData(ctx, topic, sfm.CandidatePairs(ids, prior.GetMatchWindow())); err != nil {
			return nil, err
		}
		missing = append(missing, topic)
	}
	if !wait {
		return missing, nil
	}
	for _, topic := range missing {
		if _, err := solver.WaitForVisualData(ctx, topic, prior.GetReprojErrorThd(), prior.GetTrackLenThd()); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func decodeProgress(topic string, total int) func() {
	if total == 0 {
		return func() {}
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(fmt.Sprintf("decoding %s", topic)).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		logger.Debugw("cannot start progress bar", "topic", topic, "error", err)
		return func() {}
	}
	return func() { bar.Increment() }
}
