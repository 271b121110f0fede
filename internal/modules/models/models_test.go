package models

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticLinear builds y = 2*x0 - 1*x1 + 0.5 with a seeded generator.
func syntheticLinear(n int, noise float64, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x0 := rng.NormFloat64()
		x1 := rng.NormFloat64()
		X[i] = []float64{x0, x1}
		y[i] = 2*x0 - x1 + 0.5 + noise*rng.NormFloat64()
	}
	return X, y
}

func TestSanitize_ReplacesNonFiniteWithZero(t *testing.T) {
	X := [][]float64{{1, math.NaN()}, {math.Inf(1), math.Inf(-1)}}

	clean := Sanitize(X)

	assert.Equal(t, [][]float64{{1, 0}, {0, 0}}, clean)
	// Input untouched
	assert.True(t, math.IsNaN(X[0][1]))
}

func TestStandardScaler_FitTransform(t *testing.T) {
	s := &StandardScaler{}
	X := [][]float64{{1, 10}, {2, 10}, {3, 10}}

	scaled, err := s.FitTransform(X)
	require.NoError(t, err)

	// First column standardized, constant column centered to zero
	assert.InDelta(t, 0.0, scaled[1][0], 1e-12)
	assert.InDelta(t, 0.0, scaled[0][1], 1e-12)

	// Transform must apply training parameters unchanged
	out, err := s.Transform([][]float64{{2, 10}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out[0][0], 1e-12)
}

func TestStandardScaler_TransformBeforeFit(t *testing.T) {
	s := &StandardScaler{}
	_, err := s.Transform([][]float64{{1}})
	assert.Error(t, err)
}

func TestOLS_RecoversLinearRelationship(t *testing.T) {
	X, y := syntheticLinear(500, 0, 1)

	slot := NewOLS()
	require.NoError(t, slot.Fit(X, y))

	preds, err := slot.Predict(X)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, y[i], preds[i], 1e-6)
	}
}

func TestRidge_ShrinksTowardZero(t *testing.T) {
	X, y := syntheticLinear(200, 0.1, 2)

	weak := NewRidge(0.001)
	strong := NewRidge(1e6)
	require.NoError(t, weak.Fit(X, y))
	require.NoError(t, strong.Fit(X, y))

	weakPred, err := weak.Predict([][]float64{{1, 0}})
	require.NoError(t, err)
	strongPred, err := strong.Predict([][]float64{{1, 0}})
	require.NoError(t, err)

	// Heavy penalty pulls the prediction toward the target mean
	assert.Greater(t, math.Abs(weakPred[0]-strongPred[0]), 0.1)
}

func TestLasso_ZeroesIrrelevantFeature(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 300)
	y := make([]float64, 300)
	for i := range X {
		x0 := rng.NormFloat64()
		noiseFeature := rng.NormFloat64()
		X[i] = []float64{x0, noiseFeature}
		y[i] = 3 * x0
	}

	slot := NewLasso(0.5)
	require.NoError(t, slot.Fit(X, y))

	assert.NotZero(t, slot.coef[0])
	assert.Zero(t, slot.coef[1], "strong L1 penalty must zero the irrelevant feature")
}

func TestForest_FitsNonlinearSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	X := make([][]float64, 400)
	y := make([]float64, 400)
	for i := range X {
		x := rng.Float64()*4 - 2
		X[i] = []float64{x}
		y[i] = x * x
	}

	slot := NewRandomForest(50, 6, 42)
	require.NoError(t, slot.Fit(X, y))

	preds, err := slot.Predict([][]float64{{-1.5}, {0}, {1.5}})
	require.NoError(t, err)
	assert.InDelta(t, 2.25, preds[0], 0.5)
	assert.InDelta(t, 0.0, preds[1], 0.5)
	assert.InDelta(t, 2.25, preds[2], 0.5)
}

func TestForest_DeterministicWithSeed(t *testing.T) {
	X, y := syntheticLinear(100, 0.2, 5)

	a := NewRandomForest(20, 5, 7)
	b := NewRandomForest(20, 5, 7)
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	pa, err := a.Predict(X[:10])
	require.NoError(t, err)
	pb, err := b.Predict(X[:10])
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestGradientBoost_ReducesTrainingError(t *testing.T) {
	X, y := syntheticLinear(300, 0.05, 6)

	slot := NewGradientBoost(100, 3, 0.1, 42)
	require.NoError(t, slot.Fit(X, y))

	preds, err := slot.Predict(X)
	require.NoError(t, err)

	var mse, variance, mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	for i := range y {
		mse += (y[i] - preds[i]) * (y[i] - preds[i])
		variance += (y[i] - mean) * (y[i] - mean)
	}
	assert.Less(t, mse, variance/2, "boosting must explain at least half the variance")
}

func TestRegimeNet_LearnsAdditiveSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	X := make([][]float64, 600)
	y := make([]float64, 600)
	for i := range X {
		macro := rng.NormFloat64()
		char := rng.NormFloat64()
		X[i] = []float64{macro, char}
		y[i] = 0.5*macro + char
	}

	slot, err := NewRegimeNet(1, 150, 42)
	require.NoError(t, err)
	require.NoError(t, slot.Fit(X, y))

	preds, err := slot.Predict(X)
	require.NoError(t, err)

	var mse, variance float64
	for i := range y {
		mse += (y[i] - preds[i]) * (y[i] - preds[i])
		variance += y[i] * y[i]
	}
	assert.Less(t, mse, variance/2, "network must explain at least half the variance")
}

func TestRegimeNet_RequiresCharacteristicColumns(t *testing.T) {
	slot, err := NewRegimeNet(2, 5, 1)
	require.NoError(t, err)

	// Two features, both claimed by the macro block: nothing left for the head
	err = slot.Fit([][]float64{{1, 2}, {3, 4}}, []float64{1, 2})
	assert.Error(t, err)
}

func TestPredictBeforeFitFails(t *testing.T) {
	slots := []Slot{NewOLS(), NewRidge(1), NewLasso(0.01), NewRandomForest(5, 3, 1), NewGradientBoost(5, 2, 0.1, 1)}
	for _, slot := range slots {
		_, err := slot.Predict([][]float64{{1, 2}})
		assert.Error(t, err, slot.Name())
	}
}

func TestBuild_UnknownModelIsError(t *testing.T) {
	_, _, err := Build([]string{"OLS", "Mystery"}, BuilderConfig{Seed: 1})
	assert.Error(t, err)
}

func TestBuild_CapabilityProbe(t *testing.T) {
	// RegimeNN without macro columns is unavailable, not a crash
	slots, unavailable, err := Build([]string{"OLS", "RegimeNN"}, BuilderConfig{Seed: 1, MacroDim: 0})
	require.NoError(t, err)

	require.Len(t, slots, 1)
	assert.Equal(t, "OLS", slots[0].Name())
	assert.Contains(t, unavailable, "RegimeNN")
}
