// Package imu decodes recorded sensor_msgs/Imu messages into IMU frames.
package imu

import (
	"github.com/golang/geo/r3"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

// Model names registered by this package.
const (
	// ModelName reports specific force in m/s^2.
	ModelName = "SENSOR_IMU"
	// ModelNameG reports specific force in units of g.
	ModelNameG = "SENSOR_IMU_G"
	// ModelNameSBG is an SBG Systems unit publishing sensor_msgs/Imu.
	ModelNameSBG = "SBG_IMU"
)

// StandardGravity converts accelerations reported in g.
const StandardGravity = 9.80665

func init() {
	registry.RegisterIMU(ModelName, registry.IMURegistration{Decoder: New(ModelName, 1)})
	registry.RegisterIMU(ModelNameG, registry.IMURegistration{Decoder: New(ModelNameG, StandardGravity)})
	registry.RegisterIMU(ModelNameSBG, registry.IMURegistration{Decoder: New(ModelNameSBG, 1)})
}

// Decoder unpacks sensor_msgs/Imu messages, scaling the linear acceleration by acceScale.
type Decoder struct {
	model     string
	acceScale float64
}

// New returns a decoder for the model.
func New(model string, acceScale float64) *Decoder {
	return &Decoder{model: model, acceScale: acceScale}
}

// Decode implements sensor.IMUDecoder.
func (d *Decoder) Decode(msg ros.Message) (*sensor.IMUFrame, error) {
	if !msg.HasFields("angular_velocity", "linear_acceleration") {
		return nil, sensor.NewModelMismatchError(d.model, "sensor_msgs/Imu")
	}
	var m ros.ImuMessage
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	return &sensor.IMUFrame{
		Timestamp: m.Header.TimeOr(msg.Time),
		Gyro:      r3.Vector{X: m.AngularVelocity.X, Y: m.AngularVelocity.Y, Z: m.AngularVelocity.Z},
		Acce: r3.Vector{
			X: m.LinearAcceleration.X,
			Y: m.LinearAcceleration.Y,
			Z: m.LinearAcceleration.Z,
		}.Mul(d.acceScale),
	}, nil
}
