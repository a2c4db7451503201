package estimator

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// solveLBFGS minimizes over a tangent step from the starting point with gonum's L-BFGS. The
// step is applied to the parameter blocks on every evaluation.
func solveLBFGS(ctx context.Context, e *evaluator, opts Options, summary *Summary) error {
	origin := e.snapshot()
	x0 := make([]float64, e.numTangent)
	cost, ok := e.p.Cost()
	if !ok {
		summary.Termination = Failure
		summary.Message = "residual evaluation failed at the initial point"
		return nil
	}
	summary.InitialCost = cost
	summary.FinalCost = cost

	var evalErr error
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			e.apply(origin, x)
			c, ok := e.p.Cost()
			if !ok {
				return math.Inf(1)
			}
			return c
		},
		Grad: func(grad, x []float64) {
			e.apply(origin, x)
			lin, ok, err := e.linearize(ctx, origin, x)
			if err != nil || !ok {
				if err != nil {
					evalErr = err
				}
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			copy(grad, e.gradient(lin))
		},
	}

	rec := &iterationRecorder{ctx: ctx, e: e, origin: origin, callbacks: opts.Callbacks, summary: summary, prevCost: cost}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Relative:   opts.FunctionTolerance,
			Iterations: 3,
		},
		Recorder: rec,
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if evalErr != nil {
		return evalErr
	}
	if err != nil {
		if errors.Is(err, errUserAbort) {
			summary.Termination = UserAbort
			summary.Message = err.Error()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if res == nil {
			return err
		}
	}
	e.apply(origin, res.X)
	summary.FinalCost = res.F
	summary.SuccessfulSteps = res.MajorIterations
	switch {
	case err != nil:
		summary.Termination = NoConvergence
		summary.Message = err.Error()
	case res.Status == optimize.IterationLimit:
		summary.Termination = NoConvergence
		summary.Message = "maximum number of iterations reached"
	case res.Status == optimize.Failure:
		summary.Termination = Failure
		summary.Message = res.Status.String()
	default:
		summary.Termination = Convergence
		summary.Message = res.Status.String()
	}
	return nil
}

// iterationRecorder forwards major iterations of the minimizer to the iteration callbacks.
type iterationRecorder struct {
	ctx       context.Context
	e         *evaluator
	origin    [][]float64
	callbacks []IterationCallback
	summary   *Summary
	prevCost  float64
}

func (r *iterationRecorder) Init() error {
	return nil
}

func (r *iterationRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op != optimize.MajorIteration {
		return nil
	}
	r.e.apply(r.origin, loc.X)
	is := IterationSummary{
		Iteration:    stats.MajorIterations,
		Cost:         loc.F,
		CostChange:   r.prevCost - loc.F,
		StepNorm:     floats.Norm(loc.X, 2),
		StepAccepted: true,
	}
	if loc.Gradient != nil {
		is.GradientNorm = floats.Norm(loc.Gradient, math.Inf(1))
	}
	r.prevCost = loc.F
	r.summary.FinalCost = loc.F
	r.summary.Iterations = append(r.summary.Iterations, is)
	return invokeCallbacks(r.callbacks, is)
}
