package lidar

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
)

type testPoint struct {
	x, y, z, intensity float32
	offsetNs           uint32
}

// packOuster lays points out as x,y,z,intensity float32 followed by a uint32 time in ns.
func packOuster(t *testing.T, stampSecs int64, pts []testPoint) ros.Message {
	t.Helper()
	const step = 20
	data := make([]int, 0, step*len(pts))
	buf := make([]byte, step)
	for _, p := range pts {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(p.x))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(p.y))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(p.z))
		binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(p.intensity))
		binary.LittleEndian.PutUint32(buf[16:], p.offsetNs)
		for _, b := range buf {
			data = append(data, int(b))
		}
	}
	body := map[string]interface{}{
		"header": map[string]interface{}{"stamp": map[string]interface{}{"secs": stampSecs, "nsecs": 0}},
		"height": 1,
		"width":  len(pts),
		"fields": []map[string]interface{}{
			{"name": "x", "offset": 0, "datatype": ros.PointFieldFloat32, "count": 1},
			{"name": "y", "offset": 4, "datatype": ros.PointFieldFloat32, "count": 1},
			{"name": "z", "offset": 8, "datatype": ros.PointFieldFloat32, "count": 1},
			{"name": "intensity", "offset": 12, "datatype": ros.PointFieldFloat32, "count": 1},
			{"name": "t", "offset": 16, "datatype": ros.PointFieldUint32, "count": 1},
		},
		"is_bigendian": false,
		"point_step":   step,
		"row_step":     step * len(pts),
		"data":         data,
		"is_dense":     true,
	}
	raw, err := json.Marshal(body)
	test.That(t, err, test.ShouldBeNil)
	return ros.Message{Topic: "/os_cloud", Data: raw}
}

func TestDecodeOuster(t *testing.T) {
	msg := packOuster(t, 5, []testPoint{
		{x: 1, y: 2, z: 3, intensity: 7, offsetNs: 0},
		{x: 0, y: 0, z: 0, offsetNs: 100},
		{x: float32(math.NaN()), y: 1, z: 1, offsetNs: 200},
		{x: -1, y: 0.5, z: 0, intensity: 9, offsetNs: 50_000_000},
	})
	frame, err := registry.LiDARLookup(ModelNameOuster).Decoder.Decode(msg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Timestamp, test.ShouldEqual, 5.0)
	test.That(t, len(frame.Points), test.ShouldEqual, 2)
	test.That(t, frame.Points[0].Point.Z, test.ShouldAlmostEqual, 3.0)
	test.That(t, frame.Points[0].Intensity, test.ShouldAlmostEqual, 7.0)
	test.That(t, frame.Points[1].Timestamp, test.ShouldAlmostEqual, 5.05, 1e-9)
	test.That(t, frame.Points[1].Point.Y, test.ShouldAlmostEqual, 0.5)
}

func TestDecodeMissingTimeField(t *testing.T) {
	msg := packOuster(t, 2, []testPoint{{x: 1, y: 1, z: 1, offsetNs: 10}})
	// the livox decoder looks for offset_time, so points inherit the scan stamp
	frame, err := registry.LiDARLookup(ModelNameLivox).Decoder.Decode(msg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Points[0].Timestamp, test.ShouldEqual, 2.0)
}

func TestDecodeMismatch(t *testing.T) {
	_, err := registry.LiDARLookup(ModelNameVelodyne).Decoder.Decode(ros.Message{Data: []byte(`{"angular_velocity":{}}`)})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New(ModelNameVelodyne, TimeField{Name: "time", Scale: 1}).Decode(ros.Message{
		Data: []byte(`{"fields":[{"name":"x","offset":0,"datatype":7}],"point_step":4,"data":[0,0,0,0]}`),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"y"`)
}
