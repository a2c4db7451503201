// Package align brings the independently clocked streams of a rig onto one zero-origin timeline.
//
// The common window is bracketed by the IMU streams, which must be present, and tightened by
// every other active modality. IMU streams are trimmed to the open window; other modalities
// are trimmed with twice the padding on each side so the trajectory can be evaluated on both
// sides of their frames once time offsets are estimated. Finally every timestamp, including
// per-point and per-target times, is re-based to the window start.
package align

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/sensor"
)

// ErrNoIntersection is returned when a stream has no frames inside the common window.
var ErrNoIntersection = errors.New("no intersection with the inertial time window")

// ErrNoIMU is returned when the registry holds no IMU stream.
var ErrNoIMU = errors.New("at least one imu stream is required")

// TimeWindow describes the common time span of all streams. Raw times are in the recorded
// clock; aligned times are re-based so that AlignedStart is zero.
type TimeWindow struct {
	RawStart     float64
	RawEnd       float64
	AlignedStart float64
	AlignedEnd   float64
	Padding      float64
}

// AlignedRange is the length of the aligned window.
func (w TimeWindow) AlignedRange() float64 { return w.AlignedEnd - w.AlignedStart }

// CalibStart is the start of the window used for estimation.
func (w TimeWindow) CalibStart() float64 { return w.AlignedStart + w.Padding }

// CalibEnd is the end of the window used for estimation.
func (w TimeWindow) CalibEnd() float64 { return w.AlignedEnd - w.Padding }

// CalibRange is the length of the window used for estimation.
func (w TimeWindow) CalibRange() float64 { return w.CalibEnd() - w.CalibStart() }

// Align trims and re-bases every stream of reg in place and returns the resulting window. pad is
// the time offset padding in seconds. Streams are expected to be sorted by time.
func Align(reg *sensor.Registry, pad float64, logger logging.Logger) (TimeWindow, error) {
	logger.Info("adjust calibration data sequence...")
	if !reg.Has(sensor.IMU) {
		return TimeWindow{}, ErrNoIMU
	}
	if pad < 0 {
		return TimeWindow{}, errors.Errorf("time offset padding must be non-negative, got %v", pad)
	}

	window := TimeWindow{Padding: pad}
	window.RawStart, window.RawEnd = bracket(reg.IMUStreams())
	if reg.Has(sensor.Radar) {
		window.tighten(bracket(reg.RadarStreams()))
	}
	if reg.Has(sensor.LiDAR) {
		window.tighten(bracket(reg.LiDARStreams()))
	}
	if reg.Has(sensor.Camera) {
		window.tighten(bracket(reg.CameraStreams()))
	}
	if window.RawStart > window.RawEnd {
		return TimeWindow{}, errors.Wrapf(ErrNoIntersection,
			"streams do not overlap: start %.5f is after end %.5f", window.RawStart, window.RawEnd)
	}

	inner := func(t float64) bool { return t > window.RawStart }
	outer := func(t float64) bool { return t < window.RawEnd }
	if err := trimStreams(sensor.IMU, reg.IMUStreams(), inner, outer); err != nil {
		return TimeWindow{}, err
	}

	paddedInner := func(t float64) bool { return t > window.RawStart+2*pad }
	paddedOuter := func(t float64) bool { return t < window.RawEnd-2*pad }
	if err := trimStreams(sensor.Radar, reg.RadarStreams(), paddedInner, paddedOuter); err != nil {
		return TimeWindow{}, err
	}
	if err := trimStreams(sensor.LiDAR, reg.LiDARStreams(), paddedInner, paddedOuter); err != nil {
		return TimeWindow{}, err
	}
	if err := trimStreams(sensor.Camera, reg.CameraStreams(), paddedInner, paddedOuter); err != nil {
		return TimeWindow{}, err
	}
	LogStatus(logger, reg, window)

	logger.Info("align calibration data timestamp...")
	window.AlignedStart = 0
	window.AlignedEnd = window.RawEnd - window.RawStart
	rebase(reg.IMUStreams(), window.RawStart)
	rebase(reg.RadarStreams(), window.RawStart)
	rebase(reg.LiDARStreams(), window.RawStart)
	rebase(reg.CameraStreams(), window.RawStart)
	LogStatus(logger, reg, window)

	return window, nil
}

func (w *TimeWindow) tighten(start, end float64) {
	w.RawStart = math.Max(w.RawStart, start)
	w.RawEnd = math.Min(w.RawEnd, end)
}

// bracket returns the latest first timestamp and the earliest last timestamp over the streams.
// Empty streams are ignored.
func bracket[F sensor.Frame](streams map[string][]F) (start, end float64) {
	start, end = math.Inf(-1), math.Inf(1)
	for _, frames := range streams {
		if len(frames) == 0 {
			continue
		}
		start = math.Max(start, frames[0].Time())
		end = math.Min(end, frames[len(frames)-1].Time())
	}
	return start, end
}

func trimStreams[F sensor.Frame](
	m sensor.Modality,
	streams map[string][]F,
	keepHead, keepTail func(t float64) bool,
) error {
	for topic, frames := range streams {
		trimmed, err := trim(frames, keepHead, keepTail)
		if err != nil {
			return errors.Wrapf(err, "%s topic %q", m, topic)
		}
		streams[topic] = trimmed
	}
	return nil
}

// trim drops the frames before the first one satisfying keepHead and after the last one
// satisfying keepTail.
func trim[F sensor.Frame](frames []F, keepHead, keepTail func(t float64) bool) ([]F, error) {
	first := -1
	for i, f := range frames {
		if keepHead(f.Time()) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, ErrNoIntersection
	}
	frames = frames[first:]

	last := -1
	for i := len(frames) - 1; i >= 0; i-- {
		if keepTail(frames[i].Time()) {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, ErrNoIntersection
	}
	return frames[:last+1], nil
}

func rebase[F sensor.Frame](streams map[string][]F, origin float64) {
	for _, frames := range streams {
		for _, f := range frames {
			f.ShiftTime(-origin)
		}
	}
}
