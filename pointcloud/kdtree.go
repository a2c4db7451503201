package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// treePoint is a point of the cloud as stored in the tree.
type treePoint struct {
	pos r3.Vector
	idx int
}

func coord(v r3.Vector, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c and
// perpendicular to the dimension d.
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return coord(p.pos, d) - coord(q.pos, d)
}

// Dims returns the number of dimensions described by the receiver.
func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between c and the receiver.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	d := p.pos.Sub(q.pos)
	return d.Dot(d)
}

type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p treePoints) Len() int                              { return len(p) }
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p treePoints) Pivot(d kdtree.Dim) int {
	return treePlane{treePoints: p, dim: d}.pivot()
}

// treePlane sorts points along one dimension.
type treePlane struct {
	treePoints
	dim kdtree.Dim
}

func (p treePlane) Less(i, j int) bool {
	return coord(p.treePoints[i].pos, p.dim) < coord(p.treePoints[j].pos, p.dim)
}

func (p treePlane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	return treePlane{treePoints: p.treePoints[start:end], dim: p.dim}
}

func (p treePlane) pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// KDTree answers nearest neighbor queries over a point cloud.
type KDTree struct {
	cloud *PointCloud
	tree  *kdtree.Tree
}

// ToKDTree builds a tree over the points of the cloud.
func ToKDTree(pc *PointCloud) *KDTree {
	pts := make(treePoints, 0, pc.Size())
	for i := 0; i < pc.Size(); i++ {
		pts = append(pts, treePoint{pos: pc.At(i).Position, idx: i})
	}
	kd := &KDTree{cloud: pc}
	if len(pts) > 0 {
		kd.tree = kdtree.New(pts, false)
	}
	return kd
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.cloud.Size()
}

// NearestNeighbor returns the closest point to p and its distance. ok is false for an empty tree.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (Point, float64, bool) {
	if kd.tree == nil {
		return Point{}, 0, false
	}
	c, d2 := kd.tree.Nearest(treePoint{pos: p})
	if c == nil {
		return Point{}, 0, false
	}
	return kd.cloud.At(c.(treePoint).idx), math.Sqrt(d2), true
}

// KNearestNeighbors returns up to k points closest to p, nearest first.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []Point {
	if kd.tree == nil || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keep, treePoint{pos: p})
	out := make([]Point, 0, keep.Len())
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, kd.cloud.At(cd.Comparable.(treePoint).idx))
	}
	// the keeper heap is a max heap, order nearest first.
	sortByDistance(out, p)
	return out
}

func sortByDistance(pts []Point, p r3.Vector) {
	sort.Slice(pts, func(i, j int) bool {
		return pts[i].Position.Sub(p).Norm2() < pts[j].Position.Sub(p).Norm2()
	})
}
