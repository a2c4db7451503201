package estimator

import (
	"context"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rigcalib/utils"
)

// evaluator linearizes a problem at its current parameter values. Variable parameter blocks are
// laid out contiguously in a tangent vector of size numTangent.
type evaluator struct {
	p            *Problem
	threads      int
	numTangent   int
	numResiduals int
	rowOffsets   []int
	variable     []*parameterBlock
}

func newEvaluator(p *Problem, threads int) *evaluator {
	e := &evaluator{p: p, threads: threads}
	for _, b := range p.order {
		if b.constant {
			b.offset = -1
			continue
		}
		b.offset = e.numTangent
		e.numTangent += b.manifold.TangentSize()
		e.variable = append(e.variable, b)
	}
	e.rowOffsets = make([]int, len(p.residuals))
	for i, rb := range p.residuals {
		e.rowOffsets[i] = e.numResiduals
		e.numResiduals += rb.cost.NumResiduals()
	}
	return e
}

// linearization holds loss-scaled residuals and their jacobians with respect to the tangent
// space of each variable parameter block.
type linearization struct {
	cost      float64
	residuals []float64
	// jacobians[residual block][parameter block], nil for constant blocks.
	jacobians [][]*mat.Dense
}

// snapshot copies the values of every variable block.
func (e *evaluator) snapshot() [][]float64 {
	out := make([][]float64, len(e.variable))
	for i, b := range e.variable {
		out[i] = append([]float64(nil), b.values...)
	}
	return out
}

// restore writes a snapshot back.
func (e *evaluator) restore(s [][]float64) {
	for i, b := range e.variable {
		copy(b.values, s[i])
	}
}

// apply sets every variable block to origin boxplus delta.
func (e *evaluator) apply(origin [][]float64, delta []float64) {
	for i, b := range e.variable {
		ts := b.manifold.TangentSize()
		b.manifold.Plus(origin[i], delta[b.offset:b.offset+ts], b.values)
		b.clamp()
	}
}

// linearize evaluates the residuals at the current values and, when origin is given, their
// jacobians with respect to a step taken from origin at delta. The current values must equal
// origin boxplus delta. It returns false when any residual block cannot be evaluated.
func (e *evaluator) linearize(ctx context.Context, origin [][]float64, delta []float64) (*linearization, bool, error) {
	lin := &linearization{
		residuals: make([]float64, e.numResiduals),
		jacobians: make([][]*mat.Dense, len(e.p.residuals)),
	}
	costs := make([]float64, len(e.p.residuals))
	failed := make([]bool, len(e.p.residuals))
	originIdx := make(map[*parameterBlock]int, len(e.variable))
	for i, b := range e.variable {
		originIdx[b] = i
	}

	err := utils.GroupWorkParallelN(ctx, e.threads, len(e.p.residuals), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				rb := e.p.residuals[workNum]
				n := rb.cost.NumResiduals()
				res := lin.residuals[e.rowOffsets[workNum] : e.rowOffsets[workNum]+n]
				params := rb.params()
				if !rb.cost.Evaluate(params, res) {
					failed[workNum] = true
					return
				}
				if origin != nil {
					lin.jacobians[workNum] = e.blockJacobians(rb, params, res, origin, delta, originIdx)
				}
				rho, drho := rb.loss.Evaluate(squaredNorm(res))
				costs[workNum] = 0.5 * rho
				scale := math.Sqrt(math.Max(drho, 0))
				if scale == 1 {
					return
				}
				for i := range res {
					res[i] *= scale
				}
				for _, j := range lin.jacobians[workNum] {
					if j != nil {
						j.Scale(scale, j)
					}
				}
			}, nil
		})
	if err != nil {
		return nil, false, err
	}
	for i, c := range costs {
		if failed[i] {
			return nil, false, nil
		}
		lin.cost += c
	}
	return lin, true, nil
}

// blockJacobians differentiates one residual block numerically in the tangent space of each of
// its variable parameter blocks.
func (e *evaluator) blockJacobians(
	rb *residualBlock,
	params [][]float64,
	base []float64,
	origin [][]float64,
	delta []float64,
	originIdx map[*parameterBlock]int,
) []*mat.Dense {
	n := len(base)
	jacs := make([]*mat.Dense, len(rb.blocks))
	for j, b := range rb.blocks {
		if b.constant {
			continue
		}
		ts := b.manifold.TangentSize()
		x0 := make([]float64, ts)
		if delta != nil {
			copy(x0, delta[b.offset:b.offset+ts])
		}
		o := origin[originIdx[b]]
		scratch := make([]float64, len(b.values))
		perturbed := append([][]float64(nil), params...)
		perturbed[j] = scratch

		jacs[j] = mat.NewDense(n, ts, nil)
		fd.Jacobian(jacs[j], func(y, x []float64) {
			b.manifold.Plus(o, x, scratch)
			for i := range scratch {
				scratch[i] = math.Min(math.Max(scratch[i], b.lower), b.upper)
			}
			if !rb.cost.Evaluate(perturbed, y) {
				copy(y, base)
			}
		}, x0, &fd.JacobianSettings{Formula: fd.Central})
	}
	return jacs
}

// gradient returns J^T r.
func (e *evaluator) gradient(lin *linearization) []float64 {
	g := make([]float64, e.numTangent)
	for i, rb := range e.p.residuals {
		r := mat.NewVecDense(rb.cost.NumResiduals(), lin.residuals[e.rowOffsets[i]:e.rowOffsets[i]+rb.cost.NumResiduals()])
		for j, b := range rb.blocks {
			jac := lin.jacobians[i][j]
			if jac == nil {
				continue
			}
			var part mat.VecDense
			part.MulVec(jac.T(), r)
			for k := 0; k < part.Len(); k++ {
				g[b.offset+k] += part.AtVec(k)
			}
		}
	}
	return g
}

// jacobianProduct returns J x.
func (e *evaluator) jacobianProduct(lin *linearization, x []float64) []float64 {
	out := make([]float64, e.numResiduals)
	for i, rb := range e.p.residuals {
		n := rb.cost.NumResiduals()
		dst := mat.NewVecDense(n, out[e.rowOffsets[i]:e.rowOffsets[i]+n])
		for j, b := range rb.blocks {
			jac := lin.jacobians[i][j]
			if jac == nil {
				continue
			}
			_, ts := jac.Dims()
			var part mat.VecDense
			part.MulVec(jac, mat.NewVecDense(ts, x[b.offset:b.offset+ts]))
			dst.AddVec(dst, &part)
		}
	}
	return out
}

// jacobianTransposeProduct returns J^T y.
func (e *evaluator) jacobianTransposeProduct(lin *linearization, y []float64) []float64 {
	return e.gradient(&linearization{residuals: y, jacobians: lin.jacobians})
}

// normalEquations returns J^T J as a dense symmetric matrix.
func (e *evaluator) normalEquations(lin *linearization) *mat.SymDense {
	jtj := mat.NewSymDense(e.numTangent, nil)
	for i, rb := range e.p.residuals {
		for a, ba := range rb.blocks {
			ja := lin.jacobians[i][a]
			if ja == nil {
				continue
			}
			for c, bc := range rb.blocks {
				jc := lin.jacobians[i][c]
				if jc == nil || bc.offset < ba.offset {
					continue
				}
				var prod mat.Dense
				prod.Mul(ja.T(), jc)
				rows, cols := prod.Dims()
				for r := 0; r < rows; r++ {
					for k := 0; k < cols; k++ {
						row, col := ba.offset+r, bc.offset+k
						if row > col {
							// lower triangle of a diagonal block
							continue
						}
						jtj.SetSym(row, col, jtj.At(row, col)+prod.At(r, k))
					}
				}
			}
		}
	}
	return jtj
}

// jacobianColumnNorms returns diag(J^T J).
func (e *evaluator) jacobianColumnNorms(lin *linearization) []float64 {
	d := make([]float64, e.numTangent)
	for i, rb := range e.p.residuals {
		for j, b := range rb.blocks {
			jac := lin.jacobians[i][j]
			if jac == nil {
				continue
			}
			rows, cols := jac.Dims()
			for k := 0; k < cols; k++ {
				for r := 0; r < rows; r++ {
					v := jac.At(r, k)
					d[b.offset+k] += v * v
				}
			}
		}
	}
	return d
}
