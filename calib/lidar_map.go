package calib

import (
	"math"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rigcalib/pointcloud"
	"go.viam.com/rigcalib/sensor"
	"go.viam.com/rigcalib/utils"
)

const (
	// mapPointsPerScan bounds the points each scan contributes to the map.
	mapPointsPerScan = 200
	// planePointsPerScan bounds the point-to-plane residuals each scan contributes.
	planePointsPerScan = 50
	// planeNeighbors is the neighborhood a local plane is fitted on.
	planeNeighbors = 5
	// planarity is the largest ratio between the smallest and middle eigenvalues of a plane.
	planarity = 0.1
	// planeRadiusVoxels bounds the neighborhood radius, in voxels.
	planeRadiusVoxels = 3
	// degenerateSpread rejects neighborhoods that are a line or a single point.
	degenerateSpread = 1e-9
)

// lidarMap is the static world cloud seen by every LiDAR, mapped with the current trajectory.
type lidarMap struct {
	cloud *pointcloud.PointCloud
	tree  *pointcloud.KDTree
	voxel float64
}

type planeCorrespondence struct {
	tm     float64
	point  r3.Vector
	normal r3.Vector
	center r3.Vector
}

// strided returns at most n evenly spaced indices of a scan of size total.
func strided(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	step := 1
	if total > n {
		step = total / n
	}
	idx := make([]int, 0, n)
	for i := 0; i < total && len(idx) < n; i += step {
		idx = append(idx, i)
	}
	return idx
}

// buildLiDARMap maps points of every LiDAR scan into the world with the current estimate.
func (s *Solver) buildLiDARMap() (*lidarMap, error) {
	raw := pointcloud.New()
	for _, topic := range s.reg.Topics(sensor.LiDAR) {
		for _, scan := range s.reg.LiDAR(topic) {
			for _, i := range strided(len(scan.Points), mapPointsPerScan) {
				p := scan.Points[i]
				pose, err := s.EvaluateSensorPose(p.Timestamp, topic)
				if err != nil {
					if errors.Is(err, ErrScaleTypeMismatch) {
						return nil, err
					}
					continue
				}
				raw.Add(pose.Transform(p.Point), p.Intensity)
			}
		}
	}
	if raw.Size() == 0 {
		return nil, errors.New("no lidar point falls inside the trajectory")
	}
	voxel := s.cfg.Prior.GetMapVoxelSize()
	cloud := pointcloud.VoxelDownsample(raw, voxel)
	s.logger.Infof("lidar map: %d points, %d after voxel downsampling (%.3f m)", raw.Size(), cloud.Size(), voxel)
	return &lidarMap{cloud: cloud, tree: pointcloud.ToKDTree(cloud), voxel: voxel}, nil
}

// correspondences associates sampled points of every scan of topic with a local map plane.
func (m *lidarMap) correspondences(s *Solver, topic string) []planeCorrespondence {
	var out []planeCorrespondence
	radius := planeRadiusVoxels * m.voxel
	for _, scan := range s.reg.LiDAR(topic) {
		for _, i := range strided(len(scan.Points), planePointsPerScan) {
			p := scan.Points[i]
			pose, err := s.EvaluateSensorPose(p.Timestamp, topic)
			if err != nil {
				continue
			}
			world := pose.Transform(p.Point)
			nbrs := m.tree.KNearestNeighbors(world, planeNeighbors)
			if len(nbrs) < planeNeighbors || nbrs[len(nbrs)-1].Position.Sub(world).Norm() > radius {
				continue
			}
			normal, center, ok := fitPlane(nbrs)
			if !ok {
				continue
			}
			out = append(out, planeCorrespondence{tm: p.Timestamp, point: p.Point, normal: normal, center: center})
		}
	}
	return out
}

// fitPlane returns the normal and centroid of the points when they are close to a plane.
func fitPlane(pts []pointcloud.Point) (r3.Vector, r3.Vector, bool) {
	if len(pts) < 3 {
		return r3.Vector{}, r3.Vector{}, false
	}
	var center r3.Vector
	for _, p := range pts {
		center = center.Add(p.Position)
	}
	center = center.Mul(1 / float64(len(pts)))

	cov := mat.NewSymDense(3, nil)
	for _, p := range pts {
		d := p.Position.Sub(center)
		v := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+v[i]*v[j])
			}
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return r3.Vector{}, r3.Vector{}, false
	}
	// ascending
	vals := eig.Values(nil)
	if vals[2] <= 0 || vals[1] <= degenerateSpread*vals[2] || vals[0] > planarity*vals[1] {
		return r3.Vector{}, r3.Vector{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	n := normal.Norm()
	if n == 0 || math.IsNaN(n) {
		return r3.Vector{}, r3.Vector{}, false
	}
	return normal.Mul(1 / n), center, true
}

// exportLiDARMap writes the map of a stage as a LAS file.
func (s *Solver) exportLiDARMap(m *lidarMap, desc string) error {
	dir := filepath.Join(s.outputPath(), "lidar_map")
	if err := utils.EnsureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, desc+".las")
	if err := pointcloud.WriteToLASFile(m.cloud, path); err != nil {
		return errors.Wrapf(err, "cannot write lidar map %q", path)
	}
	s.logger.Infof("lidar map of stage '%s' written to '%s'", desc, path)
	return nil
}
