// Package sensor defines the timestamped frames produced by each sensing modality of a rig, the
// per-topic stream registry holding them, and the decoder contracts that produce them from
// recorded messages.
package sensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Modality is the kind of sensor producing a stream.
type Modality int

const (
	// IMU streams provide angular velocity and specific force.
	IMU Modality = iota
	// Radar streams provide arrays of targets with radial velocities.
	Radar
	// LiDAR streams provide scans of timestamped points.
	LiDAR
	// Camera streams provide images.
	Camera
)

// Modalities lists every modality in processing order.
var Modalities = []Modality{IMU, Radar, LiDAR, Camera}

func (m Modality) String() string {
	switch m {
	case IMU:
		return "imu"
	case Radar:
		return "radar"
	case LiDAR:
		return "lidar"
	case Camera:
		return "camera"
	}
	return fmt.Sprintf("Modality(%d)", int(m))
}

// ModalityFromString parses a modality name.
func ModalityFromString(s string) (Modality, error) {
	for _, m := range Modalities {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown modality %q", s)
}

// Frame is a single timestamped measurement. Timestamps are in seconds.
type Frame interface {
	Time() float64
	// ShiftTime moves the frame, and any nested per-point times, by dt seconds.
	ShiftTime(dt float64)
}

// ErrTopicMissing is returned when a configured topic has no frames.
var ErrTopicMissing = errors.New("no frames for configured topic")

// NewTopicMissingError wraps ErrTopicMissing with the offending topic.
func NewTopicMissingError(m Modality, topic string) error {
	return errors.Wrapf(ErrTopicMissing, "%s topic %q", m, topic)
}

// ModelMismatchError is returned by a decoder that receives a message it cannot interpret.
type ModelMismatchError struct {
	Model   string
	Message string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("message of type %q does not match sensor model %q", e.Message, e.Model)
}

// NewModelMismatchError returns a ModelMismatchError.
func NewModelMismatchError(model, msgType string) error {
	return &ModelMismatchError{Model: model, Message: msgType}
}
