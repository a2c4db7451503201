package calib

import (
	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/params"
	"go.viam.com/rigcalib/sfm"
	"go.viam.com/rigcalib/spatialmath"
	"go.viam.com/rigcalib/spline"
)

// state holds the optimizable values of a run as flat parameter blocks. Blocks are written back
// to the trajectory, the parameter set and the visual structures with writeBack.
type state struct {
	so3       [][]float64
	scale     [][]float64
	extRot    map[string][]float64
	extPos    map[string][]float64
	offsets   map[string][]float64
	gyroBias  map[string][]float64
	acceBias  map[string][]float64
	gravity   []float64
	landmarks map[string]map[uint64][]float64
}

func newState(b *spline.Bundle, par *params.ParamSet, structures map[string]*sfm.Structure) *state {
	st := &state{
		extRot:    map[string][]float64{},
		extPos:    map[string][]float64{},
		offsets:   map[string][]float64{},
		gyroBias:  map[string][]float64{},
		acceBias:  map[string][]float64{},
		gravity:   make([]float64, 3),
		landmarks: map[string]map[uint64][]float64{},
	}
	so3 := b.SO3()
	st.so3 = make([][]float64, so3.NumKnots())
	for i := range st.so3 {
		st.so3[i] = make([]float64, 4)
		estimator.QuatToParams(so3.Knot(i), st.so3[i])
	}
	scale := b.Scale()
	st.scale = make([][]float64, scale.NumKnots())
	for i := range st.scale {
		st.scale[i] = make([]float64, 3)
		estimator.VecToParams(scale.Knot(i), st.scale[i])
	}
	for topic, pose := range par.Extrinsics {
		st.extRot[topic] = make([]float64, 4)
		estimator.QuatToParams(pose.Orientation, st.extRot[topic])
		st.extPos[topic] = make([]float64, 3)
		estimator.VecToParams(pose.Point, st.extPos[topic])
	}
	for topic, offset := range par.TimeOffsets {
		st.offsets[topic] = []float64{offset}
	}
	for topic, in := range par.IMUIntrinsics {
		st.gyroBias[topic] = make([]float64, 3)
		estimator.VecToParams(in.GyroBias, st.gyroBias[topic])
		st.acceBias[topic] = make([]float64, 3)
		estimator.VecToParams(in.AcceBias, st.acceBias[topic])
	}
	estimator.VecToParams(par.Gravity, st.gravity)
	for topic, s := range structures {
		lms := make(map[uint64][]float64, len(s.Landmarks))
		for id, lm := range s.Landmarks {
			lms[id] = make([]float64, 3)
			estimator.VecToParams(lm.X, lms[id])
		}
		st.landmarks[topic] = lms
	}
	return st
}

// writeBack copies every block into the trajectory, the parameter set and the structures.
func (st *state) writeBack(b *spline.Bundle, par *params.ParamSet, structures map[string]*sfm.Structure) {
	for i, k := range st.so3 {
		b.SO3().SetKnot(i, estimator.QuatFromParams(k))
	}
	for i, k := range st.scale {
		b.Scale().SetKnot(i, estimator.VecFromParams(k))
	}
	for topic := range st.extRot {
		par.Extrinsics[topic] = spatialmath.NewPose(
			estimator.QuatFromParams(st.extRot[topic]),
			estimator.VecFromParams(st.extPos[topic]),
		)
	}
	for topic, o := range st.offsets {
		par.TimeOffsets[topic] = o[0]
	}
	for topic := range st.gyroBias {
		par.IMUIntrinsics[topic] = params.IMUIntrinsics{
			GyroBias: estimator.VecFromParams(st.gyroBias[topic]),
			AcceBias: estimator.VecFromParams(st.acceBias[topic]),
		}
	}
	par.Gravity = estimator.VecFromParams(st.gravity)
	for topic, lms := range st.landmarks {
		s, ok := structures[topic]
		if !ok {
			continue
		}
		for id, x := range lms {
			if lm, ok := s.Landmarks[id]; ok {
				lm.X = estimator.VecFromParams(x)
			}
		}
	}
}

// knotWindow is the range of knots a residual may touch.
type knotWindow struct {
	first int
	count int
}

type segmenter interface {
	Segment(t float64) (int, float64, bool)
}

// windowFor returns the knots influencing any time in [t0, t1].
func windowFor(sp segmenter, t0, t1 float64) (knotWindow, bool) {
	a, _, ok := sp.Segment(t0)
	if !ok {
		return knotWindow{}, false
	}
	b, _, ok := sp.Segment(t1)
	if !ok {
		return knotWindow{}, false
	}
	return knotWindow{first: a, count: b - a + spline.Order}, true
}
