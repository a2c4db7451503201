package calib

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/sensor/camera"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/utils"
)

const (
	// artifactSettleTime is how long the workspace must stay quiet before artifacts are read.
	artifactSettleTime = 500 * time.Millisecond
	// artifactPollInterval rechecks the workspace in case a filesystem event was missed.
	artifactPollInterval = 5 * time.Second
)

// PrepareVisualData exports the undistorted frames of a camera topic and writes the work order
// of the external reconstruction along with the index of exported images.
func (s *Solver) PrepareVisualData(ctx context.Context, topic string, matches []sfm.IndexPair) error {
	s.setState(SfMPreparing)
	frames := s.reg.Camera(topic)
	if len(frames) == 0 {
		return sensor.NewTopicMissingError(sensor.Camera, topic)
	}
	model, err := s.par.Camera(topic)
	if err != nil {
		return err
	}
	ws := s.workspace(topic)
	if err := ws.Create(); err != nil {
		return err
	}
	s.logger.Infof("exporting %d undistorted images of camera '%s' to '%s'", len(frames), topic, ws.ImageDir())

	info := sfm.NewImagesInfo(topic, ws.ImageDir())
	for _, f := range frames {
		info.Images[f.ID] = sfm.ImageFileName(f.ID)
	}

	var (
		mu        sync.Mutex
		exportErr error
	)
	if err := utils.GroupWorkParallelN(ctx, s.cfg.Preference.GetThreads(), len(frames), nil,
		func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			var groupErr error
			return func(_, i int) {
					if groupErr != nil {
						return
					}
					f := frames[i]
					undistorted, err := model.UndistortImage(f.Image)
					if err != nil {
						groupErr = errors.Wrapf(err, "frame %d", f.ID)
						return
					}
					groupErr = imaging.Save(undistorted, filepath.Join(ws.ImageDir(), sfm.ImageFileName(f.ID)))
				}, func() {
					mu.Lock()
					defer mu.Unlock()
					exportErr = multierr.Combine(exportErr, groupErr)
				}
		}); err != nil {
		return err
	}
	if exportErr != nil {
		return errors.Wrapf(exportErr, "cannot export images of camera %q", topic)
	}
	if err := info.Save(ws.InfoFile(), s.format()); err != nil {
		return err
	}

	cameraType, _, _ := s.cfg.DataStream.TopicType(topic)
	if err := sfm.WriteWorkOrder(ws, sfm.WorkOrder{
		Intrinsics:     model.Undistorted().PinholeCameraIntrinsics,
		Pairs:          matches,
		RollingShutter: camera.IsRollingShutter(cameraType),
	}); err != nil {
		return err
	}
	s.logger.Infof("work order of camera '%s' written to '%s'", topic, ws.Path(sfm.CommandLogFile))
	return nil
}

// LoadVisualData reads the reconstruction of a camera topic. It returns nil without an error
// when the reconstruction has not been produced yet.
func (s *Solver) LoadVisualData(topic string, errThd float64, trackLenThd int) (*sfm.Structure, error) {
	s.setState(SfMLoading)
	ws := s.workspace(topic)
	info, rec, err := sfm.ReadReconstruction(ws)
	if err != nil {
		if errors.Is(err, sfm.ErrArtifactsMissing) {
			s.logger.Warnf("reconstruction of camera '%s' is not ready: %v", topic, err)
			return nil, nil
		}
		return nil, err
	}
	model, err := s.par.Camera(topic)
	if err != nil {
		return nil, err
	}
	structure, err := sfm.Build(info, rec, s.reg.Camera(topic), model, errThd, trackLenThd, s.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build visual structure of camera %q", topic)
	}
	s.logger.Infof("visual structure of camera '%s': %d views, %d landmarks, %d observations",
		topic, len(structure.Views), len(structure.Landmarks), structure.NumObservations())

	s.mu.Lock()
	s.structures[topic] = structure
	s.mu.Unlock()
	return structure, nil
}

// WaitForVisualData blocks until the reconstruction of a camera topic can be loaded or ctx is
// done. Workspace changes are debounced before loading so that partially written files are not
// read; the workspace is also polled on the solver clock.
func (s *Solver) WaitForVisualData(ctx context.Context, topic string, errThd float64, trackLenThd int) (*sfm.Structure, error) {
	ws := s.workspace(topic)
	if err := ws.Create(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot watch reconstruction workspace")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Debugw("closing workspace watcher", "error", err)
		}
	}()
	if err := watcher.Add(ws.Dir()); err != nil {
		return nil, errors.Wrapf(err, "cannot watch %q", ws.Dir())
	}

	ready := make(chan struct{}, 1)
	signal := func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}
	settle := debounce.New(artifactSettleTime)
	ticker := s.clock.Ticker(artifactPollInterval)
	defer ticker.Stop()

	s.logger.Infof("waiting for the reconstruction of camera '%s' in '%s'", topic, ws.Dir())
	signal()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, errors.New("workspace watcher closed")
			}
			s.logger.Debugw("workspace changed", "file", ev.Name, "op", ev.Op.String())
			settle(signal)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, errors.New("workspace watcher closed")
			}
			s.logger.Warnw("workspace watcher error", "error", err)
		case <-ticker.C:
			signal()
		case <-ready:
			if len(ws.MissingArtifacts()) > 0 {
				continue
			}
			structure, err := s.LoadVisualData(topic, errThd, trackLenThd)
			if err != nil || structure != nil {
				return structure, err
			}
		}
	}
}

// TransformVisualStructure scales a structure then moves it by curToNew.
func TransformVisualStructure(structure *sfm.Structure, curToNew spatialmath.Pose, scale float64) {
	sfm.Transform(structure, curToNew, scale)
}

// DownsampleVisualStructure bounds the number of landmarks and of observations per landmark.
func DownsampleVisualStructure(structure *sfm.Structure, maxLandmarks, maxObsPerLandmark int) {
	sfm.Downsample(structure, maxLandmarks, maxObsPerLandmark)
}
