package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOOSR2_PerfectPrediction(t *testing.T) {
	actual := []float64{0.01, -0.02, 0.03, 0.005}
	assert.InDelta(t, 1.0, OOSR2(actual, actual), 1e-12)
}

func TestOOSR2_ConstantTargetsDegenerateToZero(t *testing.T) {
	actual := []float64{0.02, 0.02, 0.02}
	predicted := []float64{0.5, -0.3, 0.1}

	// All realized targets identical: SS_tot is exactly zero, R² defined as 0
	assert.Equal(t, 0.0, OOSR2(actual, predicted))
}

func TestOOSR2_MeanPredictionScoresZero(t *testing.T) {
	actual := []float64{1, 2, 3}
	predicted := []float64{2, 2, 2}
	assert.InDelta(t, 0.0, OOSR2(actual, predicted), 1e-12)
}

func TestOOSR2_EmptyAndMismatchedInputs(t *testing.T) {
	assert.Equal(t, 0.0, OOSR2(nil, nil))
	assert.Equal(t, 0.0, OOSR2([]float64{1}, []float64{1, 2}))
}

func TestRMSE(t *testing.T) {
	actual := []float64{1, 2, 3}
	predicted := []float64{1, 2, 5}
	// residuals 0, 0, -2 -> sqrt(4/3)
	assert.InDelta(t, 1.1547005, RMSE(actual, predicted), 1e-6)
}

func TestMAE(t *testing.T) {
	actual := []float64{1, 2, 3}
	predicted := []float64{2, 2, 1}
	assert.InDelta(t, 1.0, MAE(actual, predicted), 1e-12)
}
