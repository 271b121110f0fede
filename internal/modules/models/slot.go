// Package models provides the uniform fit/predict contract that the
// expanding-window evaluator drives, plus the concrete model slots: linear
// and regularized-linear solvers, tree ensembles and a small regime-aware
// neural regressor. Slots are self-contained - no state is shared between
// slots, so independent slots can be fitted concurrently.
package models

import (
	"math"
)

// Slot wraps one regression model behind a uniform contract. Fit trains in
// place; Predict returns one value per input row. A slot carries no state
// beyond its fitted parameters, so reusing a fitted slot across test
// periods is exactly the "infrequent retraining" deployment mode.
type Slot interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// Sanitize returns a copy of X with every non-finite value (NaN, ±Inf)
// replaced by zero. This runs identically before fit and predict so a
// fitted scaler sees consistent distributions.
func Sanitize(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		clean := make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				clean[j] = 0
			} else {
				clean[j] = v
			}
		}
		out[i] = clean
	}
	return out
}

// SanitizeVector replaces non-finite values in a target vector with zero.
func SanitizeVector(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		} else {
			out[i] = v
		}
	}
	return out
}
