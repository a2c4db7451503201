package calib

import (
	"github.com/pkg/errors"

	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/spline"
)

// ErrScaleTypeMismatch is returned by pose queries when the scale spline does not hold
// positions, which happens when neither a LiDAR nor a camera is calibrated.
var ErrScaleTypeMismatch = errors.New("scale spline is not a position spline")

// EvaluateBodyPose returns the reference body to world pose at body time t.
func (s *Solver) EvaluateBodyPose(t float64) (spatialmath.Pose, error) {
	if st := s.bundle.ScaleType(); st != spline.LinPos {
		return spatialmath.Pose{}, errors.Wrapf(ErrScaleTypeMismatch, "scale type is %s", st)
	}
	rot, ok := s.bundle.EvaluateRotation(t)
	if !ok {
		return spatialmath.Pose{}, errors.Wrapf(spline.ErrTimeOutOfRange, "body time %f", t)
	}
	pos, ok := s.bundle.EvaluateScale(t)
	if !ok {
		return spatialmath.Pose{}, errors.Wrapf(spline.ErrTimeOutOfRange, "body time %f", t)
	}
	return spatialmath.NewPose(rot, pos), nil
}

// EvaluateSensorPose returns the sensor to world pose of topic at sensor time t. The time is
// shifted by the sensor's time offset and the body pose is composed with its extrinsic.
func (s *Solver) EvaluateSensorPose(t float64, topic string) (spatialmath.Pose, error) {
	if st := s.bundle.ScaleType(); st != spline.LinPos {
		return spatialmath.Pose{}, errors.Wrapf(ErrScaleTypeMismatch, "scale type is %s", st)
	}
	offset, err := s.par.TimeOffset(topic)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	extr, err := s.par.Extrinsic(topic)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	body, err := s.EvaluateBodyPose(t + offset)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.Compose(body, extr), nil
}
