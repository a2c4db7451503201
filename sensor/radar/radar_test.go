package radar

import (
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
)

func TestPolarToPoint(t *testing.T) {
	p := PolarToPoint(2, math.Pi/2, 0)
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, p.Y, test.ShouldAlmostEqual, 2.0)
	p = PolarToPoint(3, 0, math.Pi/2)
	test.That(t, p.Z, test.ShouldAlmostEqual, 3.0)
	test.That(t, PolarToPoint(5, 0.3, -0.2).Norm(), test.ShouldAlmostEqual, 5.0)
}

func TestDecodeScan(t *testing.T) {
	reg := registry.RadarLookup(ModelNameAWR1843Raw)
	test.That(t, reg.MergeTargets, test.ShouldBeTrue)
	arr, err := reg.Decoder.Decode(ros.Message{
		Time: 4.5,
		Data: []byte(`{"header":{"stamp":{"secs":0,"nsecs":0}},"point_id":3,"x":1,"y":2,"z":2,"velocity":-0.5}`),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, arr.Timestamp, test.ShouldEqual, 4.5)
	test.That(t, len(arr.Targets), test.ShouldEqual, 1)
	test.That(t, arr.Targets[0].Range(), test.ShouldAlmostEqual, 3.0)
	test.That(t, arr.Targets[0].RadialVelocity, test.ShouldEqual, -0.5)

	_, err = reg.Decoder.Decode(ros.Message{Data: []byte(`{"targets":[]}`)})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeCustom(t *testing.T) {
	reg := registry.RadarLookup(ModelNameAWR1843Custom)
	test.That(t, reg.MergeTargets, test.ShouldBeTrue)
	arr, err := reg.Decoder.Decode(ros.Message{
		Data: []byte(`{"header":{"stamp":{"secs":2,"nsecs":0}},"range":4,"azimuth":0,"elevation":0,"velocity":1.5}`),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, arr.Timestamp, test.ShouldEqual, 2.0)
	test.That(t, arr.Targets[0].Point.X, test.ShouldAlmostEqual, 4.0)
}

func TestDecodeArray(t *testing.T) {
	reg := registry.RadarLookup(ModelNameTargetArray)
	test.That(t, reg.MergeTargets, test.ShouldBeFalse)
	arr, err := reg.Decoder.Decode(ros.Message{
		Data: []byte(`{"header":{"stamp":{"secs":3,"nsecs":0}},"targets":[
			{"range":1,"azimuth":0,"elevation":0,"velocity":0.1},
			{"header":{"stamp":{"secs":3,"nsecs":500000000}},"range":2,"azimuth":0,"elevation":0,"velocity":0.2}
		]}`),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, arr.Timestamp, test.ShouldEqual, 3.0)
	test.That(t, len(arr.Targets), test.ShouldEqual, 2)
	test.That(t, arr.Targets[0].Timestamp, test.ShouldEqual, 3.0)
	test.That(t, arr.Targets[1].Timestamp, test.ShouldAlmostEqual, 3.5)
}
