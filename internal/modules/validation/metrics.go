package validation

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// OOSR2 is the out-of-sample R²: 1 - SS_res / SS_tot, where SS_tot is the
// squared deviation from the mean of the realized targets. Defined as 0
// when SS_tot is exactly zero (all targets identical).
func OOSR2(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	mean := stat.Mean(actual, nil)
	var ssRes, ssTot float64
	for i := range actual {
		r := actual[i] - predicted[i]
		d := actual[i] - mean
		ssRes += r * r
		ssTot += d * d
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// RMSE is the root mean squared error.
func RMSE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	var sum float64
	for i := range actual {
		r := actual[i] - predicted[i]
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// MAE is the mean absolute error.
func MAE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}
