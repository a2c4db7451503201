package sensor

import (
	"image"

	"github.com/golang/geo/r3"
)

// IMUFrame is one inertial sample: angular velocity (rad/s) and specific force (m/s^2) in the IMU frame.
type IMUFrame struct {
	Timestamp float64
	Gyro      r3.Vector
	Acce      r3.Vector
}

// Time returns the frame time.
func (f *IMUFrame) Time() float64 { return f.Timestamp }

// ShiftTime moves the frame by dt seconds.
func (f *IMUFrame) ShiftTime(dt float64) { f.Timestamp += dt }

// RadarTarget is one detection: a position in the radar frame and its radial (Doppler) velocity,
// positive when moving away from the sensor.
type RadarTarget struct {
	Timestamp      float64
	Point          r3.Vector
	RadialVelocity float64
}

// Time returns the target time.
func (f *RadarTarget) Time() float64 { return f.Timestamp }

// ShiftTime moves the target by dt seconds.
func (f *RadarTarget) ShiftTime(dt float64) { f.Timestamp += dt }

// Range is the distance from the sensor origin.
func (f *RadarTarget) Range() float64 { return f.Point.Norm() }

// Direction is the unit line of sight toward the target.
func (f *RadarTarget) Direction() r3.Vector {
	if f.Point.Norm() == 0 {
		return r3.Vector{}
	}
	return f.Point.Normalize()
}

// RadarTargetArray groups targets measured together.
type RadarTargetArray struct {
	Timestamp float64
	Targets   []*RadarTarget
}

// Time returns the array time.
func (f *RadarTargetArray) Time() float64 { return f.Timestamp }

// ShiftTime moves the array and every target by dt seconds.
func (f *RadarTargetArray) ShiftTime(dt float64) {
	f.Timestamp += dt
	for _, tar := range f.Targets {
		tar.ShiftTime(dt)
	}
}

// LiDARPoint is a single return with its own acquisition time.
type LiDARPoint struct {
	Point     r3.Vector
	Intensity float64
	Timestamp float64
}

// LiDARFrame is one scan.
type LiDARFrame struct {
	Timestamp float64
	Points    []LiDARPoint
}

// Time returns the scan time.
func (f *LiDARFrame) Time() float64 { return f.Timestamp }

// ShiftTime moves the scan and every point by dt seconds.
func (f *LiDARFrame) ShiftTime(dt float64) {
	f.Timestamp += dt
	for i := range f.Points {
		f.Points[i].Timestamp += dt
	}
}

// CameraFrame is one image. ID is derived from the raw timestamp in milliseconds and stays
// stable after the timestamp is re-based.
type CameraFrame struct {
	Timestamp float64
	ID        uint64
	Image     image.Image
}

// NewCameraFrame returns a frame whose identifier is derived from the raw timestamp.
func NewCameraFrame(timestamp float64, img image.Image) *CameraFrame {
	return &CameraFrame{Timestamp: timestamp, ID: CameraFrameID(timestamp), Image: img}
}

// CameraFrameID derives the stable identifier of a camera frame from its raw timestamp.
func CameraFrameID(timestamp float64) uint64 {
	return uint64(timestamp * 1e3)
}

// Time returns the image time.
func (f *CameraFrame) Time() float64 { return f.Timestamp }

// ShiftTime moves the image by dt seconds.
func (f *CameraFrame) ShiftTime(dt float64) { f.Timestamp += dt }
