// Package estimator solves sparse nonlinear least squares problems over parameter blocks living
// on manifolds, with a Levenberg-Marquardt trust region method or L-BFGS.
package estimator

import (
	"math"

	"github.com/pkg/errors"
)

// CostFunction computes the residuals of one residual block. params holds one slice per
// parameter block, in the order the block was added. It returns false when the residual cannot
// be evaluated at params.
type CostFunction interface {
	NumResiduals() int
	Evaluate(params [][]float64, residuals []float64) bool
}

type costFunc struct {
	n int
	f func(params [][]float64, residuals []float64) bool
}

func (c costFunc) NumResiduals() int { return c.n }

func (c costFunc) Evaluate(params [][]float64, residuals []float64) bool {
	return c.f(params, residuals)
}

// NewCostFunction wraps a closure as a CostFunction with n residuals.
func NewCostFunction(n int, f func(params [][]float64, residuals []float64) bool) CostFunction {
	return costFunc{n: n, f: f}
}

// parameterBlock is a slice of user values optimized in place.
type parameterBlock struct {
	values   []float64
	manifold Manifold
	constant bool
	lower    float64
	upper    float64
	// offset of the block in the tangent space of the problem, -1 when constant.
	offset int
}

func (b *parameterBlock) clamp() {
	for i := range b.values {
		b.values[i] = math.Min(math.Max(b.values[i], b.lower), b.upper)
	}
}

type residualBlock struct {
	cost   CostFunction
	loss   LossFunction
	blocks []*parameterBlock
}

// Problem is a set of residual blocks over parameter blocks. Parameter blocks are identified by
// the slices holding their values, which are updated in place by Solve.
type Problem struct {
	blocks    map[*float64]*parameterBlock
	order     []*parameterBlock
	residuals []*residualBlock
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{blocks: map[*float64]*parameterBlock{}}
}

// AddParameterBlock registers values as a parameter block. A nil manifold means Euclidean.
// Adding a block again replaces its manifold when m is not nil.
func (p *Problem) AddParameterBlock(values []float64, m Manifold) error {
	if len(values) == 0 {
		return errors.New("cannot add an empty parameter block")
	}
	if m != nil && m.AmbientSize() != len(values) {
		return errors.Errorf("manifold of size %d does not fit a block of size %d", m.AmbientSize(), len(values))
	}
	if b, ok := p.blocks[&values[0]]; ok {
		if len(b.values) != len(values) {
			return errors.Errorf("parameter block re-added with size %d, was %d", len(values), len(b.values))
		}
		if m != nil {
			b.manifold = m
		}
		return nil
	}
	if m == nil {
		m = NewEuclidean(len(values))
	}
	b := &parameterBlock{values: values, manifold: m, lower: math.Inf(-1), upper: math.Inf(1), offset: -1}
	p.blocks[&values[0]] = b
	p.order = append(p.order, b)
	return nil
}

func (p *Problem) block(values []float64) (*parameterBlock, error) {
	if len(values) == 0 {
		return nil, errors.New("empty parameter block")
	}
	b, ok := p.blocks[&values[0]]
	if !ok {
		return nil, errors.New("unknown parameter block")
	}
	return b, nil
}

// SetParameterBlockConstant keeps a block fixed during the solve.
func (p *Problem) SetParameterBlockConstant(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = true
	return nil
}

// SetParameterBlockVariable undoes SetParameterBlockConstant.
func (p *Problem) SetParameterBlockVariable(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = false
	return nil
}

// IsParameterBlockConstant reports whether a block is fixed.
func (p *Problem) IsParameterBlockConstant(values []float64) bool {
	b, err := p.block(values)
	return err == nil && b.constant
}

// SetParameterBounds bounds every value of a Euclidean block to [lower, upper].
func (p *Problem) SetParameterBounds(values []float64, lower, upper float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	if _, ok := b.manifold.(Euclidean); !ok {
		return errors.New("bounds are only supported on euclidean parameter blocks")
	}
	if lower > upper {
		return errors.Errorf("lower bound %f is above upper bound %f", lower, upper)
	}
	b.lower, b.upper = lower, upper
	b.clamp()
	return nil
}

// AddResidualBlock adds a residual over the given parameter blocks, registering unknown blocks
// as Euclidean. A nil loss means TrivialLoss.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, params ...[]float64) error {
	if cost.NumResiduals() <= 0 {
		return errors.New("cost function must have residuals")
	}
	if loss == nil {
		loss = TrivialLoss{}
	}
	rb := &residualBlock{cost: cost, loss: loss}
	for _, values := range params {
		if err := p.AddParameterBlock(values, nil); err != nil {
			return err
		}
		b, err := p.block(values)
		if err != nil {
			return err
		}
		rb.blocks = append(rb.blocks, b)
	}
	p.residuals = append(p.residuals, rb)
	return nil
}

// NumParameterBlocks returns the number of parameter blocks.
func (p *Problem) NumParameterBlocks() int { return len(p.order) }

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int { return len(p.residuals) }

// NumResiduals returns the total number of residuals.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.cost.NumResiduals()
	}
	return n
}

// Cost evaluates 0.5 * sum of rho(|r|^2) at the current values.
func (p *Problem) Cost() (float64, bool) {
	total := 0.
	for _, rb := range p.residuals {
		res := make([]float64, rb.cost.NumResiduals())
		if !rb.cost.Evaluate(rb.params(), res) {
			return math.Inf(1), false
		}
		rho, _ := rb.loss.Evaluate(squaredNorm(res))
		total += 0.5 * rho
	}
	return total, true
}

func (rb *residualBlock) params() [][]float64 {
	out := make([][]float64, len(rb.blocks))
	for i, b := range rb.blocks {
		out[i] = b.values
	}
	return out
}

func squaredNorm(v []float64) float64 {
	s := 0.
	for _, x := range v {
		s += x * x
	}
	return s
}
