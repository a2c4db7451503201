package estimator

import (
	"context"

	"github.com/pkg/errors"
)

var errUserAbort = errors.New("aborted by iteration callback")

// Solve minimizes the problem in place. Non-convergence is reported through the summary and is
// not an error. An error is returned when ctx is done or the options are invalid.
func Solve(ctx context.Context, p *Problem, opts Options) (Summary, error) {
	opts = withDefaults(opts)
	e := newEvaluator(p, opts.Threads)
	summary := Summary{
		Method:             opts.Method,
		LinearSolver:       opts.LinearSolver,
		NumParameterBlocks: p.NumParameterBlocks(),
		NumParameters:      e.numTangent,
		NumResidualBlocks:  p.NumResidualBlocks(),
		NumResiduals:       e.numResiduals,
	}

	if e.numResiduals == 0 || e.numTangent == 0 {
		cost, ok := p.Cost()
		summary.InitialCost, summary.FinalCost = cost, cost
		if !ok {
			summary.Termination = Failure
			summary.Message = "residual evaluation failed"
			return summary, nil
		}
		summary.Termination = Convergence
		summary.Message = "nothing to optimize"
		return summary, nil
	}

	var err error
	switch opts.Method {
	case LevenbergMarquardt:
		switch opts.LinearSolver {
		case DenseCholesky, CGNR:
		default:
			return summary, errors.Errorf("unknown linear solver %q", opts.LinearSolver)
		}
		err = solveLM(ctx, e, opts, &summary)
	case LBFGS:
		err = solveLBFGS(ctx, e, opts, &summary)
	default:
		return summary, errors.Errorf("unknown solver method %q", opts.Method)
	}
	if err != nil {
		summary.Termination = Failure
		summary.Message = err.Error()
		return summary, err
	}
	return summary, nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.FunctionTolerance <= 0 {
		opts.FunctionTolerance = def.FunctionTolerance
	}
	if opts.GradientTolerance <= 0 {
		opts.GradientTolerance = def.GradientTolerance
	}
	if opts.ParameterTolerance <= 0 {
		opts.ParameterTolerance = def.ParameterTolerance
	}
	if opts.InitialTrustRegionRadius <= 0 {
		opts.InitialTrustRegionRadius = def.InitialTrustRegionRadius
	}
	if opts.Threads <= 0 {
		opts.Threads = def.Threads
	}
	if opts.Method == "" {
		opts.Method = def.Method
	}
	if opts.LinearSolver == "" {
		opts.LinearSolver = def.LinearSolver
	}
	return opts
}

// invokeCallbacks runs every callback and reports whether the solve should stop.
func invokeCallbacks(callbacks []IterationCallback, is IterationSummary) error {
	for _, cb := range callbacks {
		ret, err := cb.Invoke(is)
		if err != nil {
			return err
		}
		if ret == Abort {
			return errUserAbort
		}
	}
	return nil
}
