package sensor

import (
	"go.viam.com/rigcalib/ros"
)

// IMUDecoder decodes one recorded message into an IMU frame.
type IMUDecoder interface {
	Decode(msg ros.Message) (*IMUFrame, error)
}

// RadarDecoder decodes one recorded message into a target array. Models emitting single
// targets return arrays of one.
type RadarDecoder interface {
	Decode(msg ros.Message) (*RadarTargetArray, error)
}

// LiDARDecoder decodes one recorded message into a scan.
type LiDARDecoder interface {
	Decode(msg ros.Message) (*LiDARFrame, error)
}

// CameraDecoder decodes one recorded message into an image frame.
type CameraDecoder interface {
	Decode(msg ros.Message) (*CameraFrame, error)
}
