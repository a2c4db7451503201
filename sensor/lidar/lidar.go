// Package lidar decodes recorded sensor_msgs/PointCloud2 scans into LiDAR frames.
package lidar

import (
	"encoding/binary"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

// Model names registered by this package.
const (
	ModelNameVelodyne = "VLP_POINTS"
	ModelNameOuster   = "OUSTER_POINTS"
	ModelNameLivox    = "LIVOX_POINTS"
)

// TimeField names the per-point time channel of a scan and the scale converting it to seconds.
type TimeField struct {
	Name  string
	Scale float64
}

func init() {
	registry.RegisterLiDAR(ModelNameVelodyne, registry.LiDARRegistration{
		Decoder: New(ModelNameVelodyne, TimeField{Name: "time", Scale: 1}),
	})
	registry.RegisterLiDAR(ModelNameOuster, registry.LiDARRegistration{
		Decoder: New(ModelNameOuster, TimeField{Name: "t", Scale: 1e-9}),
	})
	registry.RegisterLiDAR(ModelNameLivox, registry.LiDARRegistration{
		Decoder: New(ModelNameLivox, TimeField{Name: "offset_time", Scale: 1e-9}),
	})
}

// Decoder unpacks PointCloud2 scans whose points carry a time relative to the scan stamp.
type Decoder struct {
	model     string
	timeField TimeField
}

// New returns a decoder for the model.
func New(model string, timeField TimeField) *Decoder {
	return &Decoder{model: model, timeField: timeField}
}

// Decode implements sensor.LiDARDecoder. Points with non-finite or zero coordinates are dropped.
func (d *Decoder) Decode(msg ros.Message) (*sensor.LiDARFrame, error) {
	if !msg.HasFields("fields", "point_step", "data") {
		return nil, sensor.NewModelMismatchError(d.model, "sensor_msgs/PointCloud2")
	}
	var m ros.PointCloud2Message
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	fields := make(map[string]ros.PointField, len(m.Fields))
	for _, f := range m.Fields {
		fields[f.Name] = f
	}
	for _, name := range []string{"x", "y", "z"} {
		if _, ok := fields[name]; !ok {
			return nil, errors.Errorf("point cloud on topic %q has no %q field", msg.Topic, name)
		}
	}
	var order binary.ByteOrder = binary.LittleEndian
	if m.IsBigendian {
		order = binary.BigEndian
	}
	if m.PointStep <= 0 {
		return nil, errors.Errorf("point cloud on topic %q has invalid point step %d", msg.Topic, m.PointStep)
	}

	stamp := m.Header.TimeOr(msg.Time)
	count := len(m.Data) / m.PointStep
	frame := &sensor.LiDARFrame{Timestamp: stamp, Points: make([]sensor.LiDARPoint, 0, count)}
	timeField, hasTime := fields[d.timeField.Name]
	intensityField, hasIntensity := fields["intensity"]
	if !hasIntensity {
		intensityField, hasIntensity = fields["reflectivity"]
	}

	for i := 0; i < count; i++ {
		raw := m.Data[i*m.PointStep : (i+1)*m.PointStep]
		p := r3.Vector{
			X: readField(raw, fields["x"], order),
			Y: readField(raw, fields["y"], order),
			Z: readField(raw, fields["z"], order),
		}
		if !isValidPoint(p) {
			continue
		}
		pt := sensor.LiDARPoint{Point: p, Timestamp: stamp}
		if hasTime {
			pt.Timestamp = stamp + readField(raw, timeField, order)*d.timeField.Scale
		}
		if hasIntensity {
			pt.Intensity = readField(raw, intensityField, order)
		}
		frame.Points = append(frame.Points, pt)
	}
	return frame, nil
}

func isValidPoint(p r3.Vector) bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return p.Norm2() > 0
}

// readField reads one scalar channel of a packed point. Out of bounds fields read as NaN.
func readField(raw []byte, f ros.PointField, order binary.ByteOrder) float64 {
	size := fieldSize(f.Datatype)
	if size == 0 || f.Offset < 0 || f.Offset+size > len(raw) {
		return math.NaN()
	}
	b := raw[f.Offset : f.Offset+size]
	switch f.Datatype {
	case ros.PointFieldInt8:
		return float64(int8(b[0]))
	case ros.PointFieldUint8:
		return float64(b[0])
	case ros.PointFieldInt16:
		return float64(int16(order.Uint16(b)))
	case ros.PointFieldUint16:
		return float64(order.Uint16(b))
	case ros.PointFieldInt32:
		return float64(int32(order.Uint32(b)))
	case ros.PointFieldUint32:
		return float64(order.Uint32(b))
	case ros.PointFieldFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case ros.PointFieldFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

func fieldSize(datatype int) int {
	switch datatype {
	case ros.PointFieldInt8, ros.PointFieldUint8:
		return 1
	case ros.PointFieldInt16, ros.PointFieldUint16:
		return 2
	case ros.PointFieldInt32, ros.PointFieldUint32, ros.PointFieldFloat32:
		return 4
	case ros.PointFieldFloat64:
		return 8
	}
	return 0
}
