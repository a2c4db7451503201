package pointcloud

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// lasReturnBits marks every exported point as the first of one return.
const lasReturnBits = 1 | 1<<3

// NewFromFile reads a point cloud, picking the format from the file extension. Only LAS is
// supported.
func NewFromFile(fn string) (*PointCloud, error) {
	if ext := strings.ToLower(filepath.Ext(fn)); ext != ".las" {
		return nil, errors.Errorf("cannot read point cloud %q: unsupported extension %q", fn, ext)
	}
	return NewFromLASFile(fn)
}

// NewFromLASFile reads the positions and intensities of a LAS file.
func NewFromLASFile(fn string) (*PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %q", fn)
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	n := lf.Header.NumberPoints
	pc := NewWithPrealloc(n)
	for i := range n {
		rec, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d of %q", i, fn)
		}
		d := rec.PointData()
		pc.Add(r3.Vector{X: d.X, Y: d.Y, Z: d.Z}, float64(d.Intensity))
	}
	return pc, nil
}

// WriteToLASFile writes the cloud as format 0 LAS records. Intensities are clamped to 16 bits.
func WriteToLASFile(cloud *PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", fn)
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}
	cloud.Iterate(0, 0, func(p Point) bool {
		err = lf.AddLasPoint(&lidario.PointRecord0{
			X:             p.Position.X,
			Y:             p.Position.Y,
			Z:             p.Position.Z,
			Intensity:     uint16(math.Min(math.Max(p.Intensity, 0), math.MaxUint16)),
			BitField:      lidario.PointBitField{Value: lasReturnBits},
			PointSourceID: 1,
		})
		return err == nil
	})
	return err
}
