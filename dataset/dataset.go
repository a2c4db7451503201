// Package dataset decodes the configured topics of a recording into a sensor registry.
package dataset

import (
	"github.com/pkg/errors"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

// A Progress is told how many messages of a topic are about to be decoded and returns the
// function called after each one. It may be nil.
type Progress func(topic string, total int) (step func())

// Load reads the recording of the data stream, crops it and decodes every configured topic.
func Load(ds config.DataStream, logger logging.Logger, progress Progress) (*sensor.Registry, error) {
	logger.Infof("loading rosbag '%s'...", ds.BagPath)
	rb, err := ros.ReadBag(ds.BagPath)
	if err != nil {
		return nil, err
	}
	msgs, err := ros.MessagesForTopics(rb, ds.AllTopics())
	if err != nil {
		return nil, err
	}
	msgs = ros.CropByTime(msgs, ds.BeginTime, ds.Duration, logger)
	return Decode(msgs, ds, logger, progress)
}

// Decode turns the messages of every configured topic into frames with the decoder registered
// for the topic's model. Single target radar reports are merged into sweeps. The returned
// registry is sorted by time and holds frames for every configured topic.
func Decode(msgs map[string][]ros.Message, ds config.DataStream, logger logging.Logger, progress Progress) (*sensor.Registry, error) {
	reg := sensor.NewRegistry()
	topics := ds.Topics()

	for _, topic := range topics[sensor.IMU] {
		model := ds.IMUTopics[topic].Type
		r := registry.IMULookup(model)
		if r == nil {
			return nil, unknownModel(sensor.IMU, topic, model)
		}
		frames, err := decodeTopic(topic, msgs[topic], r.Decoder.Decode, progress)
		if err != nil {
			return nil, err
		}
		reg.AddIMU(topic, frames...)
	}

	for _, topic := range topics[sensor.Radar] {
		model := ds.RadarTopics[topic].Type
		r := registry.RadarLookup(model)
		if r == nil {
			return nil, unknownModel(sensor.Radar, topic, model)
		}
		frames, err := decodeTopic(topic, msgs[topic], r.Decoder.Decode, progress)
		if err != nil {
			return nil, err
		}
		if r.MergeTargets {
			n := len(frames)
			frames = sensor.MergeRadarTargets(frames, sensor.RadarMergeBucket)
			logger.Debugf("radar '%s': %d target reports merged into %d arrays", topic, n, len(frames))
		}
		reg.AddRadar(topic, frames...)
	}

	for _, topic := range topics[sensor.LiDAR] {
		model := ds.LiDARTopics[topic].Type
		r := registry.LiDARLookup(model)
		if r == nil {
			return nil, unknownModel(sensor.LiDAR, topic, model)
		}
		frames, err := decodeTopic(topic, msgs[topic], r.Decoder.Decode, progress)
		if err != nil {
			return nil, err
		}
		reg.AddLiDAR(topic, frames...)
	}

	for _, topic := range topics[sensor.Camera] {
		model := ds.CameraTopics[topic].Type
		r := registry.CameraLookup(model)
		if r == nil {
			return nil, unknownModel(sensor.Camera, topic, model)
		}
		frames, err := decodeTopic(topic, msgs[topic], r.Decoder.Decode, progress)
		if err != nil {
			return nil, err
		}
		reg.AddCamera(topic, frames...)
	}

	reg.SortByTime()
	if err := reg.CheckTopics(topics); err != nil {
		return nil, err
	}
	for _, m := range sensor.Modalities {
		for _, topic := range topics[m] {
			count, first, last := reg.Span(m, topic)
			logger.Infof("%s topic '%s': %d frames from '%.5f' to '%.5f'", m, topic, count, first, last)
		}
	}
	return reg, nil
}

func decodeTopic[F any](topic string, msgs []ros.Message, decode func(ros.Message) (F, error), progress Progress) ([]F, error) {
	step := func() {}
	if progress != nil {
		step = progress(topic, len(msgs))
	}
	frames := make([]F, 0, len(msgs))
	for i, msg := range msgs {
		f, err := decode(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "topic %q message %d", topic, i)
		}
		frames = append(frames, f)
		step()
	}
	return frames, nil
}

func unknownModel(m sensor.Modality, topic, model string) error {
	return errors.Errorf("%s topic %q: no decoder for model %q, expected one of %v",
		m, topic, model, registry.RegisteredModels(m))
}
