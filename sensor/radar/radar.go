// Package radar decodes recorded radar messages into target arrays.
package radar

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

// Model names registered by this package.
const (
	// ModelNameAWR1843Raw is the TI AWR1843BOOST publishing one ti_mmwave_rospkg/RadarScan per target.
	ModelNameAWR1843Raw = "AWR1843BOOST_RAW"
	// ModelNameAWR1843Custom is the TI AWR1843BOOST publishing one polar target per message.
	ModelNameAWR1843Custom = "AWR1843BOOST_CUSTOM"
	// ModelNameTargetArray publishes whole sweeps as arrays of polar targets.
	ModelNameTargetArray = "RADAR_TARGET_ARRAY"
)

func init() {
	registry.RegisterRadar(ModelNameAWR1843Raw, registry.RadarRegistration{
		Decoder:      &scanDecoder{model: ModelNameAWR1843Raw},
		MergeTargets: true,
	})
	registry.RegisterRadar(ModelNameAWR1843Custom, registry.RadarRegistration{
		Decoder:      &polarDecoder{model: ModelNameAWR1843Custom},
		MergeTargets: true,
	})
	registry.RegisterRadar(ModelNameTargetArray, registry.RadarRegistration{
		Decoder: &arrayDecoder{model: ModelNameTargetArray},
	})
}

// PolarToPoint converts a range, azimuth and elevation (radians) to a point in the radar frame.
func PolarToPoint(rng, azimuth, elevation float64) r3.Vector {
	cosEl := math.Cos(elevation)
	return r3.Vector{
		X: rng * cosEl * math.Cos(azimuth),
		Y: rng * cosEl * math.Sin(azimuth),
		Z: rng * math.Sin(elevation),
	}
}

type scanDecoder struct {
	model string
}

func (d *scanDecoder) Decode(msg ros.Message) (*sensor.RadarTargetArray, error) {
	if !msg.HasFields("x", "y", "z", "velocity") {
		return nil, sensor.NewModelMismatchError(d.model, "ti_mmwave_rospkg/RadarScan")
	}
	var m ros.RadarScanMessage
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	t := m.Header.TimeOr(msg.Time)
	return &sensor.RadarTargetArray{
		Timestamp: t,
		Targets: []*sensor.RadarTarget{{
			Timestamp:      t,
			Point:          r3.Vector{X: m.X, Y: m.Y, Z: m.Z},
			RadialVelocity: m.Velocity,
		}},
	}, nil
}

type polarDecoder struct {
	model string
}

func (d *polarDecoder) Decode(msg ros.Message) (*sensor.RadarTargetArray, error) {
	if !msg.HasFields("range", "azimuth", "elevation", "velocity") {
		return nil, sensor.NewModelMismatchError(d.model, "radar target")
	}
	var m ros.RadarTarget
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	t := m.Header.TimeOr(msg.Time)
	return &sensor.RadarTargetArray{
		Timestamp: t,
		Targets:   []*sensor.RadarTarget{polarTarget(m, t)},
	}, nil
}

type arrayDecoder struct {
	model string
}

func (d *arrayDecoder) Decode(msg ros.Message) (*sensor.RadarTargetArray, error) {
	if !msg.HasFields("targets") {
		return nil, sensor.NewModelMismatchError(d.model, "radar target array")
	}
	var m ros.RadarTargetArrayMessage
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	t := m.Header.TimeOr(msg.Time)
	arr := &sensor.RadarTargetArray{Timestamp: t, Targets: make([]*sensor.RadarTarget, 0, len(m.Targets))}
	for _, tar := range m.Targets {
		arr.Targets = append(arr.Targets, polarTarget(tar, tar.Header.TimeOr(t)))
	}
	return arr, nil
}

func polarTarget(m ros.RadarTarget, t float64) *sensor.RadarTarget {
	return &sensor.RadarTarget{
		Timestamp:      t,
		Point:          PolarToPoint(m.Range, m.Azimuth, m.Elevation),
		RadialVelocity: m.Velocity,
	}
}
