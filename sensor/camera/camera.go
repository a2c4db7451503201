// Package camera decodes recorded sensor_msgs/Image and sensor_msgs/CompressedImage messages
// into camera frames.
package camera

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/rigcalib/registry"
	"go.viam.com/rigcalib/ros"
	"go.viam.com/rigcalib/sensor"
)

// Shutter variants. Rolling shutter variants name the row the stamp refers to.
const (
	shutterGS      = "GS"
	shutterRSFirst = "RS_FIRST"
	shutterRSMid   = "RS_MID"
	shutterRSLast  = "RS_LAST"
)

const (
	rawPrefix        = "SENSOR_IMAGE_"
	compressedPrefix = "SENSOR_IMAGE_COMP_"
)

var shutters = []string{shutterGS, shutterRSFirst, shutterRSMid, shutterRSLast}

func init() {
	for _, shutter := range shutters {
		rolling := shutter != shutterGS
		raw := rawPrefix + shutter
		registry.RegisterCamera(raw, registry.CameraRegistration{
			Decoder:        &rawDecoder{model: raw},
			RollingShutter: rolling,
		})
		comp := compressedPrefix + shutter
		registry.RegisterCamera(comp, registry.CameraRegistration{
			Decoder:        &compressedDecoder{model: comp},
			RollingShutter: rolling,
		})
	}
}

// IsRollingShutter reports whether a camera model exposes rows at different times.
func IsRollingShutter(model string) bool {
	if reg := registry.CameraLookup(model); reg != nil {
		return reg.RollingShutter
	}
	return strings.Contains(model, "_RS_")
}

type rawDecoder struct {
	model string
}

func (d *rawDecoder) Decode(msg ros.Message) (*sensor.CameraFrame, error) {
	if !msg.HasFields("encoding", "width", "height", "data") {
		return nil, sensor.NewModelMismatchError(d.model, "sensor_msgs/Image")
	}
	var m ros.ImageMessage
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	img, err := ImageFromRaw(&m)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image on topic %q", msg.Topic)
	}
	return sensor.NewCameraFrame(m.Header.TimeOr(msg.Time), img), nil
}

type compressedDecoder struct {
	model string
}

func (d *compressedDecoder) Decode(msg ros.Message) (*sensor.CameraFrame, error) {
	if !msg.HasFields("format", "data") {
		return nil, sensor.NewModelMismatchError(d.model, "sensor_msgs/CompressedImage")
	}
	var m ros.CompressedImageMessage
	if err := msg.Unmarshal(&m); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(m.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q image on topic %q", m.Format, msg.Topic)
	}
	return sensor.NewCameraFrame(m.Header.TimeOr(msg.Time), img), nil
}

// refineEncoding maps OpenCV style type names some drivers publish to the ROS encoding they mean.
func refineEncoding(encoding string) string {
	switch strings.ToUpper(encoding) {
	case "8UC1":
		return "mono8"
	case "8UC3":
		return "bgr8"
	case "8UC4":
		return "bgra8"
	case "16UC1":
		return "mono16"
	}
	return strings.ToLower(encoding)
}

// ImageFromRaw converts an uncompressed image message to an image.
func ImageFromRaw(m *ros.ImageMessage) (image.Image, error) {
	encoding := refineEncoding(m.Encoding)
	var channels, depth int
	switch encoding {
	case "mono8":
		channels, depth = 1, 1
	case "mono16":
		channels, depth = 1, 2
	case "rgb8", "bgr8":
		channels, depth = 3, 1
	case "rgba8", "bgra8":
		channels, depth = 4, 1
	default:
		return nil, errors.Errorf("unsupported image encoding %q", m.Encoding)
	}
	step := m.Step
	if step == 0 {
		step = m.Width * channels * depth
	}
	if m.Width <= 0 || m.Height <= 0 || len(m.Data) < step*(m.Height-1)+m.Width*channels*depth {
		return nil, errors.Errorf("image buffer of %d bytes too small for %dx%d %s", len(m.Data), m.Width, m.Height, encoding)
	}

	rect := image.Rect(0, 0, m.Width, m.Height)
	switch encoding {
	case "mono8":
		img := image.NewGray(rect)
		for y := 0; y < m.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+m.Width], m.Data[y*step:])
		}
		return img, nil
	case "mono16":
		var order binary.ByteOrder = binary.LittleEndian
		if m.IsBigendian != 0 {
			order = binary.BigEndian
		}
		img := image.NewGray16(rect)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				off := y*step + 2*x
				img.SetGray16(x, y, color.Gray16{Y: order.Uint16(m.Data[off : off+2])})
			}
		}
		return img, nil
	}

	img := image.NewNRGBA(rect)
	swap := strings.HasPrefix(encoding, "bgr")
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			off := y*step + channels*x
			r, g, b := m.Data[off], m.Data[off+1], m.Data[off+2]
			if swap {
				r, b = b, r
			}
			a := uint8(255)
			if channels == 4 {
				a = m.Data[off+3]
			}
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
		}
	}
	return img, nil
}
