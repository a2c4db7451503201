package estimator

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	minRelativeDecrease = 1e-3
	minDiagonal         = 1e-6
	maxDiagonal         = 1e32
	maxTrustRegion      = 1e16
	minTrustRegion      = 1e-32
	maxCGIterations     = 500
	cgTolerance         = 1e-10
)

// solveLM runs a Levenberg-Marquardt trust region loop. The radius grows with the quality of
// the model on accepted steps and shrinks geometrically on rejected ones.
func solveLM(ctx context.Context, e *evaluator, opts Options, summary *Summary) error {
	origin := e.snapshot()
	lin, ok, err := e.linearize(ctx, origin, nil)
	if err != nil {
		return err
	}
	if !ok {
		summary.Termination = Failure
		summary.Message = "residual evaluation failed at the initial point"
		return nil
	}
	summary.InitialCost = lin.cost
	summary.FinalCost = lin.cost

	radius := opts.InitialTrustRegionRadius
	decrease := 2.0
	g := e.gradient(lin)
	gradNorm := floats.Norm(g, math.Inf(1))

	initial := IterationSummary{Cost: lin.cost, GradientNorm: gradNorm, TrustRegionRadius: radius, StepAccepted: true}
	summary.Iterations = append(summary.Iterations, initial)
	if err := invokeCallbacks(opts.Callbacks, initial); err != nil {
		return abortOrError(err, summary)
	}
	if gradNorm <= opts.GradientTolerance {
		summary.Termination = Convergence
		summary.Message = "gradient tolerance reached"
		return nil
	}

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		is := IterationSummary{Iteration: iter, Cost: lin.cost, GradientNorm: gradNorm}

		step, solved := e.solveStep(lin, g, 1/radius, opts.LinearSolver)
		if solved {
			stepNorm := floats.Norm(step, 2)
			is.StepNorm = stepNorm
			if stepNorm <= opts.ParameterTolerance*(valuesNorm(origin)+opts.ParameterTolerance) {
				summary.Termination = Convergence
				summary.Message = "parameter tolerance reached"
				return nil
			}

			js := e.jacobianProduct(lin, step)
			modelChange := -(floats.Dot(js, lin.residuals) + 0.5*floats.Dot(js, js))
			e.apply(origin, step)
			newCost, costOK := e.p.Cost()
			rho := -1.
			if costOK && modelChange > 0 {
				rho = (lin.cost - newCost) / modelChange
			}

			if rho > minRelativeDecrease {
				origin = e.snapshot()
				next, ok, err := e.linearize(ctx, origin, nil)
				if err != nil {
					return err
				}
				if !ok {
					summary.Termination = Failure
					summary.Message = "residual evaluation failed at an accepted point"
					return nil
				}
				prevCost := lin.cost
				lin = next
				g = e.gradient(lin)
				gradNorm = floats.Norm(g, math.Inf(1))
				radius = math.Min(radius/math.Max(1./3., 1-math.Pow(2*rho-1, 3)), maxTrustRegion)
				decrease = 2

				is.Cost = lin.cost
				is.CostChange = prevCost - lin.cost
				is.GradientNorm = gradNorm
				is.TrustRegionRadius = radius
				is.StepAccepted = true
				summary.SuccessfulSteps++
				summary.FinalCost = lin.cost
				summary.Iterations = append(summary.Iterations, is)
				if err := invokeCallbacks(opts.Callbacks, is); err != nil {
					return abortOrError(err, summary)
				}

				if is.CostChange <= opts.FunctionTolerance*prevCost {
					summary.Termination = Convergence
					summary.Message = "function tolerance reached"
					return nil
				}
				if gradNorm <= opts.GradientTolerance {
					summary.Termination = Convergence
					summary.Message = "gradient tolerance reached"
					return nil
				}
				continue
			}
			e.restore(origin)
		}

		radius /= decrease
		decrease *= 2
		is.TrustRegionRadius = radius
		summary.UnsuccessfulSteps++
		summary.Iterations = append(summary.Iterations, is)
		if radius < minTrustRegion {
			summary.Termination = Convergence
			summary.Message = "minimum trust region radius reached"
			return nil
		}
	}
	summary.Termination = NoConvergence
	summary.Message = "maximum number of iterations reached"
	return nil
}

func abortOrError(err error, summary *Summary) error {
	if errors.Is(err, errUserAbort) {
		summary.Termination = UserAbort
		summary.Message = err.Error()
		return nil
	}
	return err
}

func valuesNorm(values [][]float64) float64 {
	s := 0.
	for _, v := range values {
		s += squaredNorm(v)
	}
	return math.Sqrt(s)
}

// solveStep solves (J^T J + mu D) step = -J^T r where D is the clamped diagonal of J^T J.
func (e *evaluator) solveStep(lin *linearization, g []float64, mu float64, solver LinearSolver) ([]float64, bool) {
	d := e.jacobianColumnNorms(lin)
	for i := range d {
		d[i] = mu * math.Min(math.Max(d[i], minDiagonal), maxDiagonal)
	}
	rhs := make([]float64, len(g))
	floats.ScaleTo(rhs, -1, g)

	if solver == CGNR {
		return e.conjugateGradients(lin, d, rhs)
	}

	a := e.normalEquations(lin)
	for i, v := range d {
		a.SetSym(i, i, a.At(i, i)+v)
	}
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, false
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, mat.NewVecDense(len(rhs), rhs)); err != nil {
		return nil, false
	}
	return step.RawVector().Data, true
}

// conjugateGradients solves the damped normal equations without forming them, using Jacobi
// preconditioning.
func (e *evaluator) conjugateGradients(lin *linearization, damping, rhs []float64) ([]float64, bool) {
	n := len(rhs)
	diag := e.jacobianColumnNorms(lin)
	for i := range diag {
		diag[i] += damping[i]
	}
	apply := func(x []float64) []float64 {
		out := e.jacobianTransposeProduct(lin, e.jacobianProduct(lin, x))
		for i := range out {
			out[i] += damping[i] * x[i]
		}
		return out
	}

	x := make([]float64, n)
	r := append([]float64(nil), rhs...)
	z := make([]float64, n)
	for i := range z {
		z[i] = r[i] / diag[i]
	}
	p := append([]float64(nil), z...)
	rz := floats.Dot(r, z)
	rhsNorm := floats.Norm(rhs, 2)
	if rhsNorm == 0 {
		return x, true
	}
	for iter := 0; iter < maxCGIterations && iter < 2*n+10; iter++ {
		ap := apply(p)
		pap := floats.Dot(p, ap)
		if pap <= 0 || math.IsNaN(pap) {
			return nil, false
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if floats.Norm(r, 2) <= cgTolerance*rhsNorm {
			break
		}
		for i := range z {
			z[i] = r[i] / diag[i]
		}
		rzNext := floats.Dot(r, z)
		floats.AddScaledTo(p, z, rzNext/rz, p)
		rz = rzNext
	}
	return x, true
}
