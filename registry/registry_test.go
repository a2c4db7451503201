package registry

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

type fakeIMU struct{}

func (fakeIMU) Decode(msg ros.Message) (*sensor.IMUFrame, error) {
	return &sensor.IMUFrame{Timestamp: msg.Time}, nil
}

type fakeRadar struct{}

func (fakeRadar) Decode(msg ros.Message) (*sensor.RadarTargetArray, error) {
	return &sensor.RadarTargetArray{Timestamp: msg.Time}, nil
}

type fakeLiDAR struct{}

func (fakeLiDAR) Decode(msg ros.Message) (*sensor.LiDARFrame, error) {
	return &sensor.LiDARFrame{Timestamp: msg.Time}, nil
}

type fakeCamera struct{}

func (fakeCamera) Decode(msg ros.Message) (*sensor.CameraFrame, error) {
	return &sensor.CameraFrame{Timestamp: msg.Time}, nil
}

func TestRegistry(t *testing.T) {
	// nil decoders panic
	test.That(t, func() { RegisterIMU("x", IMURegistration{}) }, test.ShouldPanic)
	test.That(t, func() { RegisterRadar("x", RadarRegistration{}) }, test.ShouldPanic)
	test.That(t, func() { RegisterLiDAR("x", LiDARRegistration{}) }, test.ShouldPanic)
	test.That(t, func() { RegisterCamera("x", CameraRegistration{}) }, test.ShouldPanic)

	RegisterIMU("x", IMURegistration{Decoder: fakeIMU{}})
	RegisterRadar("x", RadarRegistration{Decoder: fakeRadar{}, MergeTargets: true})
	RegisterLiDAR("x", LiDARRegistration{Decoder: fakeLiDAR{}})
	RegisterCamera("x", CameraRegistration{Decoder: fakeCamera{}, RollingShutter: true})

	// same model twice panics
	test.That(t, func() { RegisterIMU("x", IMURegistration{Decoder: fakeIMU{}}) }, test.ShouldPanic)
	test.That(t, func() { RegisterRadar("x", RadarRegistration{Decoder: fakeRadar{}}) }, test.ShouldPanic)
	test.That(t, func() { RegisterLiDAR("x", LiDARRegistration{Decoder: fakeLiDAR{}}) }, test.ShouldPanic)
	test.That(t, func() { RegisterCamera("x", CameraRegistration{Decoder: fakeCamera{}}) }, test.ShouldPanic)

	test.That(t, IMULookup("x"), test.ShouldNotBeNil)
	test.That(t, IMULookup("z"), test.ShouldBeNil)
	test.That(t, RadarLookup("x").MergeTargets, test.ShouldBeTrue)
	test.That(t, RadarLookup("z"), test.ShouldBeNil)
	test.That(t, LiDARLookup("x"), test.ShouldNotBeNil)
	test.That(t, LiDARLookup("z"), test.ShouldBeNil)
	test.That(t, CameraLookup("x").RollingShutter, test.ShouldBeTrue)
	test.That(t, CameraLookup("z"), test.ShouldBeNil)

	frame, err := IMULookup("x").Decoder.Decode(ros.Message{Time: 1.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Timestamp, test.ShouldEqual, 1.5)

	RegisterIMU("a", IMURegistration{Decoder: fakeIMU{}})
	test.That(t, RegisteredModels(sensor.IMU), test.ShouldResemble, []string{"a", "x"})
	test.That(t, IsKnownModel(sensor.IMU, "a"), test.ShouldBeTrue)
	test.That(t, IsKnownModel(sensor.Radar, "a"), test.ShouldBeFalse)
}
