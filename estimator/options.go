package estimator

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/rigcalib/utils"
)

// Method is the minimizer used by Solve.
type Method string

// Known minimizers.
const (
	LevenbergMarquardt = Method("levenberg_marquardt")
	LBFGS              = Method("lbfgs")
)

// LinearSolver solves the damped normal equations of a trust region step.
type LinearSolver string

// Known linear solvers.
const (
	DenseCholesky = LinearSolver("dense_cholesky")
	CGNR          = LinearSolver("cgnr")
)

// ParseMethod returns the method named s.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case LevenbergMarquardt, LBFGS:
		return m, nil
	default:
		return "", errors.Errorf("unknown solver method %q", s)
	}
}

// ParseLinearSolver returns the linear solver named s.
func ParseLinearSolver(s string) (LinearSolver, error) {
	switch l := LinearSolver(s); l {
	case DenseCholesky, CGNR:
		return l, nil
	default:
		return "", errors.Errorf("unknown linear solver %q", s)
	}
}

// CallbackReturn tells the solver whether to keep going.
type CallbackReturn int

// Callback results.
const (
	Continue CallbackReturn = iota
	Abort
)

// IterationSummary describes one iteration of the minimizer.
type IterationSummary struct {
	Iteration         int
	Cost              float64
	CostChange        float64
	GradientNorm      float64
	StepNorm          float64
	TrustRegionRadius float64
	StepAccepted      bool
}

// An IterationCallback is invoked synchronously after every accepted iteration, and once for
// the initial state. Parameter values are up to date when it runs.
type IterationCallback interface {
	Invoke(summary IterationSummary) (CallbackReturn, error)
}

// IterationCallbackFunc adapts a function to an IterationCallback.
type IterationCallbackFunc func(summary IterationSummary) (CallbackReturn, error)

// Invoke calls f.
func (f IterationCallbackFunc) Invoke(summary IterationSummary) (CallbackReturn, error) {
	return f(summary)
}

// Options configure Solve.
type Options struct {
	MaxIterations            int
	FunctionTolerance        float64
	GradientTolerance        float64
	ParameterTolerance       float64
	InitialTrustRegionRadius float64
	Threads                  int
	Method                   Method
	LinearSolver             LinearSolver
	Callbacks                []IterationCallback
	// UpdateStateEveryIteration is kept for parity with callers expecting it; parameter blocks
	// always hold the latest accepted values when callbacks run.
	UpdateStateEveryIteration bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxIterations:             50,
		FunctionTolerance:         1e-6,
		GradientTolerance:         1e-10,
		ParameterTolerance:        1e-8,
		InitialTrustRegionRadius:  1e4,
		Threads:                   utils.ParallelFactor,
		Method:                    LevenbergMarquardt,
		LinearSolver:              DenseCholesky,
		UpdateStateEveryIteration: true,
	}
}

// Termination is why the minimizer stopped.
type Termination int

// Termination reasons.
const (
	Convergence Termination = iota
	NoConvergence
	Failure
	UserAbort
)

func (t Termination) String() string {
	switch t {
	case Convergence:
		return "CONVERGENCE"
	case NoConvergence:
		return "NO_CONVERGENCE"
	case Failure:
		return "FAILURE"
	case UserAbort:
		return "USER_ABORT"
	default:
		return fmt.Sprintf("Termination(%d)", int(t))
	}
}

// Summary reports the outcome of Solve.
type Summary struct {
	Method             Method
	LinearSolver       LinearSolver
	Termination        Termination
	Message            string
	InitialCost        float64
	FinalCost          float64
	NumParameterBlocks int
	NumParameters      int
	NumResidualBlocks  int
	NumResiduals       int
	Iterations         []IterationSummary
	SuccessfulSteps    int
	UnsuccessfulSteps  int
}

// IsSolutionUsable is true unless the minimizer failed outright.
func (s Summary) IsSolutionUsable() bool {
	return s.Termination == Convergence || s.Termination == NoConvergence || s.Termination == UserAbort
}

// BriefReport is a one line description of the solve.
func (s Summary) BriefReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, Initial cost: %e, Final cost: %e, Iterations: %d, Termination: %s",
		s.Method, s.InitialCost, s.FinalCost, s.SuccessfulSteps+s.UnsuccessfulSteps, s.Termination)
	if s.Message != "" {
		fmt.Fprintf(&b, " (%s)", s.Message)
	}
	return b.String()
}
