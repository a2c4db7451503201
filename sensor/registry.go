package sensor

import (
	"slices"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Registry holds the per-topic ordered frame streams of every modality.
type Registry struct {
	imu    map[string][]*IMUFrame
	radar  map[string][]*RadarTargetArray
	lidar  map[string][]*LiDARFrame
	camera map[string][]*CameraFrame
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		imu:    map[string][]*IMUFrame{},
		radar:  map[string][]*RadarTargetArray{},
		lidar:  map[string][]*LiDARFrame{},
		camera: map[string][]*CameraFrame{},
	}
}

// AddIMU appends frames to an IMU topic.
func (r *Registry) AddIMU(topic string, frames ...*IMUFrame) {
	r.imu[topic] = append(r.imu[topic], frames...)
}

// AddRadar appends target arrays to a radar topic.
func (r *Registry) AddRadar(topic string, frames ...*RadarTargetArray) {
	r.radar[topic] = append(r.radar[topic], frames...)
}

// AddLiDAR appends scans to a LiDAR topic.
func (r *Registry) AddLiDAR(topic string, frames ...*LiDARFrame) {
	r.lidar[topic] = append(r.lidar[topic], frames...)
}

// AddCamera appends images to a camera topic.
func (r *Registry) AddCamera(topic string, frames ...*CameraFrame) {
	r.camera[topic] = append(r.camera[topic], frames...)
}

// IMU returns the frames of an IMU topic.
func (r *Registry) IMU(topic string) []*IMUFrame { return r.imu[topic] }

// Radar returns the frames of a radar topic.
func (r *Registry) Radar(topic string) []*RadarTargetArray { return r.radar[topic] }

// LiDAR returns the frames of a LiDAR topic.
func (r *Registry) LiDAR(topic string) []*LiDARFrame { return r.lidar[topic] }

// Camera returns the frames of a camera topic.
func (r *Registry) Camera(topic string) []*CameraFrame { return r.camera[topic] }

// IMUStreams exposes the IMU streams for in-place trimming.
func (r *Registry) IMUStreams() map[string][]*IMUFrame { return r.imu }

// RadarStreams exposes the radar streams for in-place trimming.
func (r *Registry) RadarStreams() map[string][]*RadarTargetArray { return r.radar }

// LiDARStreams exposes the LiDAR streams for in-place trimming.
func (r *Registry) LiDARStreams() map[string][]*LiDARFrame { return r.lidar }

// CameraStreams exposes the camera streams for in-place trimming.
func (r *Registry) CameraStreams() map[string][]*CameraFrame { return r.camera }

// Topics returns the sorted topics registered for a modality.
func (r *Registry) Topics(m Modality) []string {
	var keys []string
	switch m {
	case IMU:
		keys = lo.Keys(r.imu)
	case Radar:
		keys = lo.Keys(r.radar)
	case LiDAR:
		keys = lo.Keys(r.lidar)
	case Camera:
		keys = lo.Keys(r.camera)
	}
	slices.Sort(keys)
	return keys
}

// Has reports whether any topic of the modality is registered.
func (r *Registry) Has(m Modality) bool {
	return len(r.Topics(m)) > 0
}

// Frames returns the frames of a topic behind the Frame interface.
func (r *Registry) Frames(m Modality, topic string) []Frame {
	switch m {
	case IMU:
		return asFrames(r.imu[topic])
	case Radar:
		return asFrames(r.radar[topic])
	case LiDAR:
		return asFrames(r.lidar[topic])
	case Camera:
		return asFrames(r.camera[topic])
	}
	return nil
}

func asFrames[F Frame](frames []F) []Frame {
	return lo.Map(frames, func(f F, _ int) Frame { return f })
}

// SortByTime orders every stream by timestamp.
func (r *Registry) SortByTime() {
	sortStreams(r.imu)
	sortStreams(r.radar)
	sortStreams(r.lidar)
	sortStreams(r.camera)
}

func sortStreams[F Frame](streams map[string][]F) {
	for _, frames := range streams {
		sort.SliceStable(frames, func(i, j int) bool { return frames[i].Time() < frames[j].Time() })
	}
}

// CheckTopics returns an error naming every configured topic without frames.
func (r *Registry) CheckTopics(configured map[Modality][]string) error {
	var errs error
	for _, m := range Modalities {
		for _, topic := range configured[m] {
			if len(r.Frames(m, topic)) == 0 {
				errs = multierr.Append(errs, NewTopicMissingError(m, topic))
			}
		}
	}
	return errs
}

// Span returns the number of frames and the first and last timestamps of a topic.
func (r *Registry) Span(m Modality, topic string) (count int, first, last float64) {
	frames := r.Frames(m, topic)
	if len(frames) == 0 {
		return 0, 0, 0
	}
	return len(frames), frames[0].Time(), frames[len(frames)-1].Time()
}

// AverageFrequency is the mean frame rate in Hz over the topics of a modality, or -1 when none
// has at least two frames.
func (r *Registry) AverageFrequency(m Modality) float64 {
	var rates []float64
	for _, topic := range r.Topics(m) {
		count, first, last := r.Span(m, topic)
		if count < 2 || last <= first {
			continue
		}
		rates = append(rates, float64(count)/(last-first))
	}
	if len(rates) == 0 {
		return -1
	}
	mean, err := stats.Mean(rates)
	if err != nil {
		return -1
	}
	return mean
}
