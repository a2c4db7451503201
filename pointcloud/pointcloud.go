// Package pointcloud defines the point cloud used for the LiDAR map, with voxel downsampling,
// nearest neighbor lookup and LAS file input/output.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge grows the bounds to include v.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Point is a position with an intensity.
type Point struct {
	Position  r3.Vector
	Intensity float64
}

// PointCloud is an ordered collection of points.
type PointCloud struct {
	points []Point
	meta   MetaData
}

// New returns an empty point cloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty point cloud with room for size points.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{points: make([]Point, 0, size), meta: NewMetaData()}
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return len(pc.points)
}

// MetaData returns the bounds of the cloud.
func (pc *PointCloud) MetaData() MetaData {
	return pc.meta
}

// Add appends a point.
func (pc *PointCloud) Add(p r3.Vector, intensity float64) {
	pc.points = append(pc.points, Point{Position: p, Intensity: intensity})
	pc.meta.Merge(p)
}

// At returns the i-th point.
func (pc *PointCloud) At(i int) Point {
	return pc.points[i]
}

// Iterate iterates over all points in the cloud and calls the given function for each point.
// If the supplied function returns false, iteration will stop after the function returns.
// numBatches lets you divide up the work, 0 means don't divide.
// myBatch is used iff numBatches > 0 and is which batch you want.
func (pc *PointCloud) Iterate(numBatches, myBatch int, fn func(p Point) bool) {
	from, to := 0, len(pc.points)
	if numBatches > 0 {
		batchSize := (len(pc.points) + numBatches - 1) / numBatches
		from = myBatch * batchSize
		to = min(from+batchSize, len(pc.points))
	}
	for i := from; i < to; i++ {
		if !fn(pc.points[i]) {
			return
		}
	}
}
