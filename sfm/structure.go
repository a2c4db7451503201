// Package sfm converts an external structure-from-motion reconstruction into views, camera poses
// and landmarks usable by the calibration, and prepares the hand-off to the reconstruction tool.
package sfm

import (
	"image/color"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/sampleuv"

	"go.viam.com/rigcalib/rimage/transform"
	"go.viam.com/rigcalib/spatialmath"
)

// View is one reconstructed camera frame.
type View struct {
	ID          uint64
	Timestamp   float64
	IntrinsicID uint64
	PoseID      uint64
	Width       int
	Height      int
}

// Observation is the pixel location of a landmark in one view.
type Observation struct {
	X         r2.Point
	FeatureID int
}

// Landmark is a reconstructed 3D point with the views observing it.
type Landmark struct {
	X     r3.Vector
	Color color.RGBA
	Obs   map[uint64]Observation
}

// Structure is a reconstruction: camera intrinsics, views, camera to world poses and landmarks.
type Structure struct {
	Intrinsics map[uint64]*transform.PinholeCameraModel
	Views      map[uint64]*View
	Poses      map[uint64]spatialmath.Pose
	Landmarks  map[uint64]*Landmark
}

// NewStructure returns an empty structure.
func NewStructure() *Structure {
	return &Structure{
		Intrinsics: map[uint64]*transform.PinholeCameraModel{},
		Views:      map[uint64]*View{},
		Poses:      map[uint64]spatialmath.Pose{},
		Landmarks:  map[uint64]*Landmark{},
	}
}

// ViewIDs returns the sorted view ids.
func (s *Structure) ViewIDs() []uint64 {
	return sortedIDs(lo.Keys(s.Views))
}

// LandmarkIDs returns the sorted landmark ids.
func (s *Structure) LandmarkIDs() []uint64 {
	return sortedIDs(lo.Keys(s.Landmarks))
}

// NumObservations is the total number of landmark observations.
func (s *Structure) NumObservations() int {
	n := 0
	for _, lm := range s.Landmarks {
		n += len(lm.Obs)
	}
	return n
}

func sortedIDs(ids []uint64) []uint64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Transform scales every pose translation and landmark by scale, then applies curToNew.
func Transform(s *Structure, curToNew spatialmath.Pose, scale float64) {
	for id, pose := range s.Poses {
		pose.Point = pose.Point.Mul(scale)
		s.Poses[id] = spatialmath.Compose(curToNew, pose)
	}
	for _, lm := range s.Landmarks {
		lm.X = curToNew.Transform(lm.X.Mul(scale))
	}
}

// Downsample removes randomly chosen landmarks until at most maxLandmarks remain, then removes
// randomly chosen observations from each landmark observed more than maxObs times. Each call
// draws from a freshly seeded generator.
func Downsample(s *Structure, maxLandmarks, maxObs int) {
	src := rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())

	if len(s.Landmarks) > maxLandmarks {
		ids := s.LandmarkIDs()
		for _, id := range sampleIDs(ids, len(ids)-maxLandmarks, src) {
			delete(s.Landmarks, id)
		}
	}
	for _, lm := range s.Landmarks {
		if len(lm.Obs) <= maxObs {
			continue
		}
		ids := sortedIDs(lo.Keys(lm.Obs))
		for _, id := range sampleIDs(ids, len(ids)-maxObs, src) {
			delete(lm.Obs, id)
		}
	}
}

// sampleIDs picks n distinct ids uniformly.
func sampleIDs(ids []uint64, n int, src rand.Source) []uint64 {
	idx := make([]int, n)
	sampleuv.WithoutReplacement(idx, len(ids), src)
	return lo.Map(idx, func(i, _ int) uint64 { return ids[i] })
}
