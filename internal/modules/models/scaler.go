package models

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Fit runs on the training call only; Transform applies the fitted
// parameters unchanged at predict time. Linear slots enable scaling, tree
// ensembles do not (split points are scale-invariant).
type StandardScaler struct {
	mean   []float64
	std    []float64
	fitted bool
}

// Fit computes per-column mean and standard deviation.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("cannot fit scaler on empty matrix")
	}
	nFeatures := len(X[0])
	s.mean = make([]float64, nFeatures)
	s.std = make([]float64, nFeatures)

	col := make([]float64, len(X))
	for j := 0; j < nFeatures; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		s.mean[j] = stat.Mean(col, nil)
		s.std[j] = stat.StdDev(col, nil)
		if s.std[j] == 0 {
			s.std[j] = 1 // constant column: leave values at 0 after centering
		}
	}
	s.fitted = true
	return nil
}

// Transform applies the fitted standardization to a new matrix.
func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if !s.fitted {
		return nil, fmt.Errorf("scaler is not fitted")
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.mean) {
			return nil, fmt.Errorf("feature width %d does not match fitted width %d", len(row), len(s.mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.std[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform fits the scaler and transforms the training matrix.
func (s *StandardScaler) FitTransform(X [][]float64) ([][]float64, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}
