package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearSlot is ordinary least squares or ridge regression, with an
// intercept and internal standardization. Ridge uses the closed form
// (X'X + λI)⁻¹ X'y; OLS solves the least-squares system via QR.
type LinearSlot struct {
	name   string
	alpha  float64 // ridge penalty; 0 means plain OLS
	scaler *StandardScaler
	coef   []float64 // fitted coefficients, intercept last
	fitted bool
}

// NewOLS creates an ordinary least squares slot.
func NewOLS() *LinearSlot {
	return &LinearSlot{name: "OLS", scaler: &StandardScaler{}}
}

// NewRidge creates a ridge regression slot with the given penalty.
func NewRidge(alpha float64) *LinearSlot {
	return &LinearSlot{name: "Ridge", alpha: alpha, scaler: &StandardScaler{}}
}

// Name returns the slot name.
func (s *LinearSlot) Name() string { return s.name }

// Fit trains the linear model in place.
func (s *LinearSlot) Fit(X [][]float64, y []float64) error {
	X = Sanitize(X)
	y = SanitizeVector(y)
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%s: invalid training shape (%d rows, %d targets)", s.name, len(X), len(y))
	}

	scaled, err := s.scaler.FitTransform(X)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	design := withIntercept(scaled)
	n, p := len(design), len(design[0])
	A := mat.NewDense(n, p, nil)
	for i, row := range design {
		A.SetRow(i, row)
	}
	b := mat.NewVecDense(n, y)

	coef := mat.NewVecDense(p, nil)
	if s.alpha > 0 {
		// Normal equations with ridge penalty; the intercept column is not
		// penalized.
		var ata mat.Dense
		ata.Mul(A.T(), A)
		for j := 0; j < p-1; j++ {
			ata.Set(j, j, ata.At(j, j)+s.alpha)
		}
		var atb mat.VecDense
		atb.MulVec(A.T(), b)
		if err := coef.SolveVec(&ata, &atb); err != nil {
			return fmt.Errorf("%s: ridge solve failed: %w", s.name, err)
		}
	} else {
		var qr mat.QR
		qr.Factorize(A)
		var sol mat.Dense
		if err := qr.SolveTo(&sol, false, b); err != nil {
			return fmt.Errorf("%s: least squares solve failed: %w", s.name, err)
		}
		for j := 0; j < p; j++ {
			coef.SetVec(j, sol.At(j, 0))
		}
	}

	s.coef = make([]float64, p)
	copy(s.coef, coef.RawVector().Data)
	s.fitted = true
	return nil
}

// Predict returns one predicted value per row.
func (s *LinearSlot) Predict(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, fmt.Errorf("%s: predict before fit", s.name)
	}
	X = Sanitize(X)
	scaled, err := s.scaler.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	preds := make([]float64, len(scaled))
	intercept := s.coef[len(s.coef)-1]
	for i, row := range scaled {
		v := intercept
		for j, x := range row {
			v += s.coef[j] * x
		}
		preds[i] = v
	}
	return preds, nil
}

// withIntercept appends a constant 1 column to every row.
func withIntercept(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row)+1)
		copy(r, row)
		r[len(row)] = 1
		out[i] = r
	}
	return out
}
