package sfm

import (
	"bufio"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/spatialmath"
)

// Camera is one record of a COLMAP cameras.txt file.
type Camera struct {
	ID     uint64
	Model  string
	Width  int
	Height int
	Params []float64
}

// Point2D is a feature of an image; Point3DID is -1 when the feature is not triangulated.
type Point2D struct {
	XY        r2.Point
	Point3DID int64
}

// Image is one record of a COLMAP images.txt file.
type Image struct {
	ID       uint64
	Q        quat.Number
	T        r3.Vector
	CameraID uint64
	Name     string
	Points2D []Point2D
}

// WorldToImage returns the pose taking world coordinates into the image frame.
func (img Image) WorldToImage() spatialmath.Pose {
	return spatialmath.NewPose(img.Q, img.T)
}

// TrackElement references the feature of an image observing a point.
type TrackElement struct {
	ImageID    uint64
	Point2DIdx int
}

// Point3D is one record of a COLMAP points3D.txt file.
type Point3D struct {
	ID    uint64
	XYZ   r3.Vector
	Color color.RGBA
	Error float64
	Track []TrackElement
}

// readRecords returns the non comment lines of a COLMAP text file. Blank lines are kept since
// an image without features has an empty second line.
func readRecords(path string) ([]string, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.fields[i], 64)
	if err != nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) uint(i int) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(p.fields[i], 10, 64)
	if err != nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) int(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.fields[i], 10, 64)
	if err != nil {
		p.err = err
	}
	return v
}

// ReadCamerasText reads a COLMAP cameras.txt file.
func ReadCamerasText(path string) (map[uint64]Camera, error) {
	lines, err := readRecords(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read cameras file %q", path)
	}
	cameras := map[uint64]Camera{}
	for n, line := range lines {
		if line == "" {
			continue
		}
		p := &fieldParser{fields: strings.Fields(line)}
		if len(p.fields) < 4 {
			return nil, errors.Errorf("%s:%d: malformed camera record", path, n+1)
		}
		cam := Camera{ID: p.uint(0), Model: p.fields[1], Width: int(p.int(2)), Height: int(p.int(3))}
		for i := 4; i < len(p.fields); i++ {
			cam.Params = append(cam.Params, p.float(i))
		}
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "%s: camera record %d", path, n+1)
		}
		cameras[cam.ID] = cam
	}
	return cameras, nil
}

// ReadImagesText reads a COLMAP images.txt file.
func ReadImagesText(path string) (map[uint64]Image, error) {
	lines, err := readRecords(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read images file %q", path)
	}
	// drop trailing blank lines that do not belong to a record
	for len(lines) > 0 && lines[len(lines)-1] == "" && len(lines)%2 == 1 {
		lines = lines[:len(lines)-1]
	}
	images := map[uint64]Image{}
	for n := 0; n < len(lines); n += 2 {
		if lines[n] == "" {
			continue
		}
		p := &fieldParser{fields: strings.Fields(lines[n])}
		if len(p.fields) < 10 {
			return nil, errors.Errorf("%s: malformed image record %d", path, n/2+1)
		}
		img := Image{
			ID:       p.uint(0),
			Q:        quat.Number{Real: p.float(1), Imag: p.float(2), Jmag: p.float(3), Kmag: p.float(4)},
			T:        r3.Vector{X: p.float(5), Y: p.float(6), Z: p.float(7)},
			CameraID: p.uint(8),
			Name:     strings.Join(p.fields[9:], " "),
		}
		if n+1 < len(lines) {
			pts := &fieldParser{fields: strings.Fields(lines[n+1])}
			if len(pts.fields)%3 != 0 {
				return nil, errors.Errorf("%s: malformed points of image %d", path, img.ID)
			}
			for i := 0; i < len(pts.fields); i += 3 {
				img.Points2D = append(img.Points2D, Point2D{
					XY:        r2.Point{X: pts.float(i), Y: pts.float(i + 1)},
					Point3DID: pts.int(i + 2),
				})
			}
			if pts.err != nil {
				return nil, errors.Wrapf(pts.err, "%s: points of image %d", path, img.ID)
			}
		}
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "%s: image record %d", path, n/2+1)
		}
		images[img.ID] = img
	}
	return images, nil
}

// ReadPoints3DText reads a COLMAP points3D.txt file.
func ReadPoints3DText(path string) (map[uint64]Point3D, error) {
	lines, err := readRecords(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read points file %q", path)
	}
	points := map[uint64]Point3D{}
	for n, line := range lines {
		if line == "" {
			continue
		}
		p := &fieldParser{fields: strings.Fields(line)}
		if len(p.fields) < 8 || (len(p.fields)-8)%2 != 0 {
			return nil, errors.Errorf("%s:%d: malformed point record", path, n+1)
		}
		pt := Point3D{
			ID:  p.uint(0),
			XYZ: r3.Vector{X: p.float(1), Y: p.float(2), Z: p.float(3)},
			Color: color.RGBA{
				R: uint8(p.uint(4)), G: uint8(p.uint(5)), B: uint8(p.uint(6)), A: 255,
			},
			Error: p.float(7),
		}
		for i := 8; i < len(p.fields); i += 2 {
			pt.Track = append(pt.Track, TrackElement{ImageID: p.uint(i), Point2DIdx: int(p.int(i + 1))})
		}
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "%s: point record %d", path, n+1)
		}
		points[pt.ID] = pt
	}
	return points, nil
}
