package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// VoxelKey returns the coordinates of the voxel of edge size containing p.
func VoxelKey(p r3.Vector, size float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(p.X / size)),
		J: int64(math.Floor(p.Y / size)),
		K: int64(math.Floor(p.Z / size)),
	}
}

func (c VoxelCoords) less(o VoxelCoords) bool {
	if c.I != o.I {
		return c.I < o.I
	}
	if c.J != o.J {
		return c.J < o.J
	}
	return c.K < o.K
}

type voxelAccum struct {
	sum       r3.Vector
	intensity float64
	n         int
}

// VoxelDownsample replaces the points of every occupied voxel by their centroid and mean
// intensity. Output points are ordered by voxel coordinates.
func VoxelDownsample(pc *PointCloud, size float64) *PointCloud {
	if size <= 0 {
		out := NewWithPrealloc(pc.Size())
		pc.Iterate(0, 0, func(p Point) bool {
			out.Add(p.Position, p.Intensity)
			return true
		})
		return out
	}
	voxels := map[VoxelCoords]*voxelAccum{}
	pc.Iterate(0, 0, func(p Point) bool {
		key := VoxelKey(p.Position, size)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccum{}
			voxels[key] = acc
		}
		acc.sum = acc.sum.Add(p.Position)
		acc.intensity += p.Intensity
		acc.n++
		return true
	})
	keys := make([]VoxelCoords, 0, len(voxels))
	for k := range voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	out := NewWithPrealloc(len(keys))
	for _, k := range keys {
		acc := voxels[k]
		n := float64(acc.n)
		out.Add(acc.sum.Mul(1/n), acc.intensity/n)
	}
	return out
}
