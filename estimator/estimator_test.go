package estimator

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigcalib/spatialmath"
)

// lineProblem fits y = a*x + b to noiseless samples.
func lineProblem(t *testing.T, ab []float64, loss LossFunction) *Problem {
	t.Helper()
	p := NewProblem()
	for i := 0; i < 20; i++ {
		x := float64(i) * 0.5
		y := 3*x - 2
		if i == 7 && loss != nil {
			y += 100
		}
		cost := NewCostFunction(1, func(params [][]float64, res []float64) bool {
			res[0] = params[0][0]*x + params[0][1] - y
			return true
		})
		test.That(t, p.AddResidualBlock(cost, loss, ab), test.ShouldBeNil)
	}
	return p
}

func TestSolveLine(t *testing.T) {
	for _, solver := range []LinearSolver{DenseCholesky, CGNR} {
		t.Run(string(solver), func(t *testing.T) {
			ab := []float64{0, 0}
			p := lineProblem(t, ab, nil)
			opts := DefaultOptions()
			opts.LinearSolver = solver
			opts.Threads = 3
			summary, err := Solve(context.Background(), p, opts)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, summary.Termination, test.ShouldEqual, Convergence)
			test.That(t, summary.IsSolutionUsable(), test.ShouldBeTrue)
			test.That(t, summary.NumResiduals, test.ShouldEqual, 20)
			test.That(t, summary.FinalCost, test.ShouldBeLessThan, 1e-8)
			test.That(t, summary.InitialCost, test.ShouldBeGreaterThan, summary.FinalCost)
			test.That(t, ab[0], test.ShouldAlmostEqual, 3, 1e-4)
			test.That(t, ab[1], test.ShouldAlmostEqual, -2, 1e-4)
			test.That(t, summary.BriefReport(), test.ShouldContainSubstring, "CONVERGENCE")
		})
	}
}

func TestSolveLBFGS(t *testing.T) {
	ab := []float64{0, 0}
	p := lineProblem(t, ab, nil)
	opts := DefaultOptions()
	opts.Method = LBFGS
	opts.MaxIterations = 200
	summary, err := Solve(context.Background(), p, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.IsSolutionUsable(), test.ShouldBeTrue)
	test.That(t, ab[0], test.ShouldAlmostEqual, 3, 1e-3)
	test.That(t, ab[1], test.ShouldAlmostEqual, -2, 1e-3)
}

func TestRobustLoss(t *testing.T) {
	plain := []float64{0, 0}
	_, err := Solve(context.Background(), lineProblem(t, plain, TrivialLoss{}), DefaultOptions())
	test.That(t, err, test.ShouldBeNil)

	robust := []float64{0, 0}
	_, err = Solve(context.Background(), lineProblem(t, robust, CauchyLoss{Delta: 0.5}), DefaultOptions())
	test.That(t, err, test.ShouldBeNil)

	// the outlier drags the plain fit, not the robust one
	test.That(t, math.Abs(robust[1]+2), test.ShouldBeLessThan, math.Abs(plain[1]+2))
	test.That(t, robust[0], test.ShouldAlmostEqual, 3, 0.05)
}

func TestLosses(t *testing.T) {
	rho, drho := TrivialLoss{}.Evaluate(4)
	test.That(t, rho, test.ShouldEqual, 4.)
	test.That(t, drho, test.ShouldEqual, 1.)

	h := HuberLoss{Delta: 1}
	rho, drho = h.Evaluate(0.25)
	test.That(t, rho, test.ShouldEqual, 0.25)
	test.That(t, drho, test.ShouldEqual, 1.)
	rho, drho = h.Evaluate(4)
	test.That(t, rho, test.ShouldAlmostEqual, 3)
	test.That(t, drho, test.ShouldAlmostEqual, 0.5)

	c := CauchyLoss{Delta: 1}
	rho, drho = c.Evaluate(math.E - 1)
	test.That(t, rho, test.ShouldAlmostEqual, 1)
	test.That(t, drho, test.ShouldAlmostEqual, 1/math.E)
}

func TestQuaternionManifold(t *testing.T) {
	want := spatialmath.ExpSO3(r3.Vector{X: 0.3, Y: -0.5, Z: 1.1})
	dirs := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1}}

	q := []float64{1, 0, 0, 0}
	p := NewProblem()
	test.That(t, p.AddParameterBlock(q, Quaternion{}), test.ShouldBeNil)
	for _, d := range dirs {
		d := d
		target := spatialmath.RotateVector(want, d)
		cost := NewCostFunction(3, func(params [][]float64, res []float64) bool {
			got := spatialmath.RotateVector(QuatFromParams(params[0]), d)
			res[0], res[1], res[2] = got.X-target.X, got.Y-target.Y, got.Z-target.Z
			return true
		})
		test.That(t, p.AddResidualBlock(cost, nil, q), test.ShouldBeNil)
	}

	summary, err := Solve(context.Background(), p, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Convergence)
	test.That(t, summary.NumParameters, test.ShouldEqual, 3)
	got := QuatFromParams(q)
	test.That(t, quat.Abs(got), test.ShouldAlmostEqual, 1)
	test.That(t, spatialmath.QuaternionAlmostEqual(got, want, 1e-5), test.ShouldBeTrue)
}

func TestConstantAndBounds(t *testing.T) {
	a := []float64{1}
	b := []float64{0}
	p := NewProblem()
	cost := NewCostFunction(2, func(params [][]float64, res []float64) bool {
		res[0] = params[0][0] - 5
		res[1] = params[1][0] - 5
		return true
	})
	test.That(t, p.AddResidualBlock(cost, nil, a, b), test.ShouldBeNil)
	test.That(t, p.SetParameterBlockConstant(a), test.ShouldBeNil)
	test.That(t, p.IsParameterBlockConstant(a), test.ShouldBeTrue)
	test.That(t, p.SetParameterBounds(b, -1, 2), test.ShouldBeNil)

	summary, err := Solve(context.Background(), p, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.IsSolutionUsable(), test.ShouldBeTrue)
	test.That(t, a[0], test.ShouldEqual, 1.)
	test.That(t, b[0], test.ShouldAlmostEqual, 2)

	test.That(t, p.SetParameterBounds(b, 3, 2), test.ShouldNotBeNil)
	q := []float64{1, 0, 0, 0}
	test.That(t, p.AddParameterBlock(q, Quaternion{}), test.ShouldBeNil)
	test.That(t, p.SetParameterBounds(q, 0, 1), test.ShouldNotBeNil)
	test.That(t, p.AddParameterBlock([]float64{1, 2}, Quaternion{}), test.ShouldNotBeNil)
	test.That(t, p.SetParameterBlockConstant([]float64{4}), test.ShouldNotBeNil)
}

func TestCallbacks(t *testing.T) {
	ab := []float64{0, 0}
	p := lineProblem(t, ab, nil)
	var seen []IterationSummary
	opts := DefaultOptions()
	opts.Callbacks = []IterationCallback{IterationCallbackFunc(func(is IterationSummary) (CallbackReturn, error) {
		seen = append(seen, is)
		if is.Iteration >= 1 {
			return Abort, nil
		}
		return Continue, nil
	})}
	summary, err := Solve(context.Background(), p, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, UserAbort)
	test.That(t, seen, test.ShouldHaveLength, 2)
	test.That(t, seen[0].Iteration, test.ShouldEqual, 0)
	test.That(t, seen[1].StepAccepted, test.ShouldBeTrue)
	test.That(t, seen[1].Cost, test.ShouldBeLessThan, seen[0].Cost)
}

func TestSolveCanceled(t *testing.T) {
	ab := []float64{0, 0}
	p := lineProblem(t, ab, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := Solve(ctx, p, DefaultOptions())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Failure)
}

func TestSolveFailedEvaluation(t *testing.T) {
	x := []float64{1}
	p := NewProblem()
	test.That(t, p.AddResidualBlock(NewCostFunction(1, func(params [][]float64, res []float64) bool {
		return false
	}), nil, x), test.ShouldBeNil)
	summary, err := Solve(context.Background(), p, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Failure)
	test.That(t, summary.IsSolutionUsable(), test.ShouldBeFalse)
}

func TestParseOptions(t *testing.T) {
	m, err := ParseMethod("lbfgs")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, LBFGS)
	_, err = ParseMethod("newton")
	test.That(t, err, test.ShouldNotBeNil)
	l, err := ParseLinearSolver("cgnr")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, CGNR)
	_, err = ParseLinearSolver("qr")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, NoConvergence.String(), test.ShouldEqual, "NO_CONVERGENCE")
}
