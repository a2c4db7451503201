package sfm

import (
	"github.com/pkg/errors"

	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/rimage/transform"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/spatialmath"
)

// Reconstruction is the raw output of the reconstruction tool.
type Reconstruction struct {
	Cameras  map[uint64]Camera
	Images   map[uint64]Image
	Points3D map[uint64]Point3D
}

// ReadReconstruction reads the text outputs of a workspace. It returns ErrArtifactsMissing when
// any of them does not exist yet.
func ReadReconstruction(ws Workspace) (*ImagesInfo, *Reconstruction, error) {
	if missing := ws.MissingArtifacts(); len(missing) > 0 {
		return nil, nil, errors.Wrapf(ErrArtifactsMissing, "%v", missing)
	}
	info, err := LoadImagesInfo(ws.InfoFile())
	if err != nil {
		return nil, nil, err
	}
	cameras, err := ReadCamerasText(ws.Path(CamerasFile))
	if err != nil {
		return nil, nil, err
	}
	images, err := ReadImagesText(ws.Path(ImagesFile))
	if err != nil {
		return nil, nil, err
	}
	points, err := ReadPoints3DText(ws.Path(Points3DFile))
	if err != nil {
		return nil, nil, err
	}
	return info, &Reconstruction{Cameras: cameras, Images: images, Points3D: points}, nil
}

// Build converts a reconstruction into a structure over the given camera frames.
// Views are keyed by frame identifiers through the images index; reconstructed images whose
// frames are not in frames are skipped. Landmarks with an error above errThd or fewer than
// trackLenThd usable observations are dropped entirely.
func Build(
	info *ImagesInfo,
	rec *Reconstruction,
	frames []*sensor.CameraFrame,
	intrinsics *transform.PinholeCameraModel,
	errThd float64,
	trackLenThd int,
	logger logging.Logger,
) (*Structure, error) {
	if len(rec.Cameras) != 1 {
		return nil, errors.Errorf("expected a single reconstructed camera, got %d", len(rec.Cameras))
	}
	var intrID uint64
	for id, cam := range rec.Cameras {
		if len(cam.Params) != 4 {
			return nil, errors.Errorf("expected a PINHOLE camera with 4 parameters, got %s with %d", cam.Model, len(cam.Params))
		}
		intrID = id
	}

	s := NewStructure()
	s.Intrinsics[intrID] = intrinsics.Undistorted()

	frameByID := make(map[uint64]*sensor.CameraFrame, len(frames))
	for _, f := range frames {
		frameByID[f.ID] = f
	}
	nameToID := info.NameToID()

	for _, img := range rec.Images {
		viewID, ok := nameToID[img.Name]
		if !ok {
			return nil, errors.Errorf("reconstructed image %q is not in the images index", img.Name)
		}
		frame, ok := frameByID[viewID]
		if !ok {
			continue
		}
		s.Views[viewID] = &View{
			ID:          viewID,
			Timestamp:   frame.Timestamp,
			IntrinsicID: intrID,
			PoseID:      viewID,
			Width:       intrinsics.Width,
			Height:      intrinsics.Height,
		}
		// stored as camera to world
		s.Poses[viewID] = spatialmath.PoseInverse(img.WorldToImage())
	}

	for _, f := range frames {
		if _, ok := s.Views[f.ID]; !ok {
			logger.Warnf("frame indexed as '%d' of camera '%s' is involved in solving but not reconstructed in SfM", f.ID, info.Topic)
		}
	}

	for ptID, pt := range rec.Points3D {
		if pt.Error > errThd || len(pt.Track) < trackLenThd {
			continue
		}
		lm := &Landmark{X: pt.XYZ, Color: pt.Color, Obs: map[uint64]Observation{}}
		for _, tr := range pt.Track {
			img, ok := rec.Images[tr.ImageID]
			if !ok {
				return nil, errors.Errorf("point %d references unknown image %d", ptID, tr.ImageID)
			}
			if tr.Point2DIdx < 0 || tr.Point2DIdx >= len(img.Points2D) {
				return nil, errors.Errorf("point %d references feature %d of image %d out of range", ptID, tr.Point2DIdx, tr.ImageID)
			}
			feat := img.Points2D[tr.Point2DIdx]
			if feat.Point3DID != int64(ptID) {
				logger.Warnf("point3D id %d and the point3D id %d of its connected feature are in conflict", ptID, feat.Point3DID)
				continue
			}
			viewID := nameToID[img.Name]
			if _, ok := s.Views[viewID]; !ok {
				continue
			}
			lm.Obs[viewID] = Observation{X: feat.XY, FeatureID: tr.Point2DIdx}
		}
		if len(lm.Obs) < trackLenThd {
			continue
		}
		s.Landmarks[ptID] = lm
	}
	return s, nil
}
