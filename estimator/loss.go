package estimator

import (
	"math"
)

// LossFunction reduces the influence of large residuals. Evaluate receives the squared norm s of
// a residual block and returns rho(s) and its first derivative.
type LossFunction interface {
	Evaluate(s float64) (rho, drho float64)
}

// TrivialLoss is the plain squared norm.
type TrivialLoss struct{}

// Evaluate returns s.
func (TrivialLoss) Evaluate(s float64) (float64, float64) { return s, 1 }

// HuberLoss is quadratic below Delta and linear above it.
type HuberLoss struct {
	Delta float64
}

// Evaluate implements LossFunction.
func (h HuberLoss) Evaluate(s float64) (float64, float64) {
	b := h.Delta * h.Delta
	if s > b {
		r := math.Sqrt(s)
		return 2*h.Delta*r - b, h.Delta / r
	}
	return s, 1
}

// CauchyLoss grows logarithmically.
type CauchyLoss struct {
	Delta float64
}

// Evaluate implements LossFunction.
func (c CauchyLoss) Evaluate(s float64) (float64, float64) {
	b := c.Delta * c.Delta
	sum := 1 + s/b
	return b * math.Log(sum), 1 / sum
}
