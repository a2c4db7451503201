package camera

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

func TestRegisteredModels(t *testing.T) {
	test.That(t, IsRollingShutter("SENSOR_IMAGE_GS"), test.ShouldBeFalse)
	test.That(t, IsRollingShutter("SENSOR_IMAGE_RS_MID"), test.ShouldBeTrue)
	test.That(t, IsRollingShutter("SENSOR_IMAGE_COMP_RS_LAST"), test.ShouldBeTrue)
	test.That(t, IsRollingShutter("SENSOR_IMAGE_COMP_GS"), test.ShouldBeFalse)
	test.That(t, len(registry.RegisteredModels(sensor.Camera)), test.ShouldEqual, 8)
}

func TestDecodeRaw(t *testing.T) {
	body := map[string]interface{}{
		"header":   map[string]interface{}{"stamp": map[string]interface{}{"secs": 12, "nsecs": 500000000}},
		"height":   2,
		"width":    2,
		"encoding": "8UC3",
		"step":     6,
		"data":     []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}
	raw, err := json.Marshal(body)
	test.That(t, err, test.ShouldBeNil)

	frame, err := registry.CameraLookup("SENSOR_IMAGE_GS").Decoder.Decode(ros.Message{Topic: "/cam", Data: raw})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Timestamp, test.ShouldEqual, 12.5)
	test.That(t, frame.ID, test.ShouldEqual, uint64(12500))
	test.That(t, frame.Image.Bounds().Dx(), test.ShouldEqual, 2)
	// bgr order swapped to rgb
	test.That(t, frame.Image.At(0, 0), test.ShouldResemble, color.NRGBA{R: 3, G: 2, B: 1, A: 255})
	test.That(t, frame.Image.At(1, 1), test.ShouldResemble, color.NRGBA{R: 12, G: 11, B: 10, A: 255})
}

func TestDecodeRawMono(t *testing.T) {
	img, err := ImageFromRaw(&ros.ImageMessage{Width: 3, Height: 1, Encoding: "mono8", Data: []byte{0, 128, 255}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.At(1, 0), test.ShouldResemble, color.Gray{Y: 128})

	_, err = ImageFromRaw(&ros.ImageMessage{Width: 3, Height: 2, Encoding: "mono8", Data: []byte{0, 128, 255}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ImageFromRaw(&ros.ImageMessage{Width: 1, Height: 1, Encoding: "yuv422", Data: []byte{0, 0}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeCompressed(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	var buf bytes.Buffer
	test.That(t, imaging.Encode(&buf, src, imaging.PNG), test.ShouldBeNil)

	raw, err := json.Marshal(map[string]interface{}{
		"header": map[string]interface{}{"stamp": map[string]interface{}{"secs": 1, "nsecs": 0}},
		"format": "png",
		"data":   base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	test.That(t, err, test.ShouldBeNil)

	frame, err := registry.CameraLookup("SENSOR_IMAGE_COMP_RS_FIRST").Decoder.Decode(ros.Message{Topic: "/cam", Data: raw})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Image.Bounds().Dx(), test.ShouldEqual, 4)
	test.That(t, frame.Image.Bounds().Dy(), test.ShouldEqual, 3)
	test.That(t, frame.ID, test.ShouldEqual, uint64(1000))

	_, err = registry.CameraLookup("SENSOR_IMAGE_COMP_GS").Decoder.Decode(ros.Message{Data: []byte(`{"encoding":"mono8"}`)})
	test.That(t, err, test.ShouldNotBeNil)
}
