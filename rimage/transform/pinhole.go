// Package transform holds the pinhole camera model used to project landmarks and undistort images.
package transform

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px" yaml:"width_px"`
	Height int     `json:"height_px" yaml:"height_px"`
	Fx     float64 `json:"fx" yaml:"fx"`
	Fy     float64 `json:"fy" yaml:"fy"`
	Ppx    float64 `json:"ppx" yaml:"ppx"`
	Ppy    float64 `json:"ppy" yaml:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Errorf("invalid size (%#v, %#v)", params.Width, params.Height)
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Errorf("invalid focal length (%#v, %#v)", params.Fx, params.Fy)
	}
	if params.Ppx < 0 || params.Ppy < 0 {
		return errors.Errorf("invalid principal point (%#v, %#v)", params.Ppx, params.Ppy)
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return r3.Vector{X: xOverZ * z, Y: yOverZ * z, Z: z}
}

// PointToPixel projects a 3D point in the camera frame to a pixel position.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	return -1.0, -1.0
}

// Project projects a point in the camera frame, reporting false when it lies behind the image plane.
func (params *PinholeCameraIntrinsics) Project(p r3.Vector) (r2.Point, bool) {
	if p.Z <= 0 {
		return r2.Point{}, false
	}
	u, v := params.PointToPixel(p.X, p.Y, p.Z)
	return r2.Point{X: u, Y: v}, true
}

// InImage reports whether the pixel lies inside the image bounds.
func (params *PinholeCameraIntrinsics) InImage(px r2.Point) bool {
	return px.X >= 0 && px.Y >= 0 && px.X < float64(params.Width) && px.Y < float64(params.Height)
}

// PinholeCameraModel is the model of a pinhole camera, with optional lens distortion.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters" yaml:"intrinsic_parameters"`
	Distortion               DistortionConfig `json:"distortion" yaml:"distortion"`
}

// CheckValid checks the intrinsics and the distortion parameters.
func (m *PinholeCameraModel) CheckValid() error {
	if m == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := m.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	_, err := m.Distorter()
	return err
}

// Distorter builds the distortion model described by the config.
func (m *PinholeCameraModel) Distorter() (Distorter, error) {
	return NewDistorter(m.Distortion.Type, m.Distortion.Parameters)
}

// Clone returns a deep copy of the model.
func (m *PinholeCameraModel) Clone() *PinholeCameraModel {
	intr := *m.PinholeCameraIntrinsics
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &intr,
		Distortion: DistortionConfig{
			Type:       m.Distortion.Type,
			Parameters: append([]float64(nil), m.Distortion.Parameters...),
		},
	}
}

// Undistorted returns the model of the image produced by UndistortImage.
func (m *PinholeCameraModel) Undistorted() *PinholeCameraModel {
	intr := *m.PinholeCameraIntrinsics
	return &PinholeCameraModel{PinholeCameraIntrinsics: &intr, Distortion: DistortionConfig{Type: NoneDistortionType}}
}

// NewPinholeCameraModelFromFile reads a camera model from a json or yaml file.
func NewPinholeCameraModelFromFile(path string) (*PinholeCameraModel, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading camera intrinsics file %q", path)
	}
	m := &PinholeCameraModel{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, m)
	default:
		err = json.Unmarshal(data, m)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing camera intrinsics file %q", path)
	}
	if err := m.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "camera intrinsics file %q", path)
	}
	return m, nil
}

// UndistortImage takes an input image and creates a new image of the same size with the distortion removed.
// Each output pixel samples the nearest source pixel, out of bounds samples are left transparent.
func (m *PinholeCameraModel) UndistortImage(img image.Image) (*image.NRGBA, error) {
	if err := m.CheckValid(); err != nil {
		return nil, err
	}
	distorter, err := m.Distorter()
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() != m.Width || bounds.Dy() != m.Height {
		return nil, fmt.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			bounds.Dx(), bounds.Dy(), m.Width, m.Height)
	}
	out := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for v := 0; v < m.Height; v++ {
		for u := 0; u < m.Width; u++ {
			x, y := m.distortPixel(distorter, float64(u), float64(v))
			su, sv := int(math.Round(x)), int(math.Round(y))
			if su < 0 || sv < 0 || su >= m.Width || sv >= m.Height {
				continue
			}
			out.Set(u, v, color.NRGBAModel.Convert(img.At(bounds.Min.X+su, bounds.Min.Y+sv)))
		}
	}
	return out, nil
}

// distortPixel maps an undistorted pixel position to its position in the distorted image.
func (m *PinholeCameraModel) distortPixel(d Distorter, u, v float64) (float64, float64) {
	x := (u - m.Ppx) / m.Fx
	y := (v - m.Ppy) / m.Fy
	xd, yd := d.Transform(x, y)
	return xd*m.Fx + m.Ppx, yd*m.Fy + m.Ppy
}
