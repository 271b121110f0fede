package models

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// BoostSlot is a gradient boosting regressor with squared-error loss:
// shallow regression trees fitted sequentially to the running residual,
// each damped by the learning rate.
type BoostSlot struct {
	name         string
	stages       int
	learningRate float64
	params       treeParams
	seed         int64

	base      float64
	fittedSet []*treeNode
	fitted    bool
}

// NewGradientBoost creates a gradient boosting slot.
func NewGradientBoost(stages, maxDepth int, learningRate float64, seed int64) *BoostSlot {
	return &BoostSlot{
		name:         "GBR",
		stages:       stages,
		learningRate: learningRate,
		params: treeParams{
			maxDepth:       maxDepth,
			minSamplesLeaf: 3,
		},
		seed: seed,
	}
}

// Name returns the slot name.
func (s *BoostSlot) Name() string { return s.name }

// Fit builds the boosted stage sequence.
func (s *BoostSlot) Fit(X [][]float64, y []float64) error {
	X = Sanitize(X)
	y = SanitizeVector(y)
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%s: invalid training shape (%d rows, %d targets)", s.name, len(X), len(y))
	}

	rng := rand.New(rand.NewSource(s.seed))
	n := len(X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	s.base = stat.Mean(y, nil)
	residual := make([]float64, n)
	for i := range residual {
		residual[i] = y[i] - s.base
	}

	s.fittedSet = make([]*treeNode, 0, s.stages)
	for stage := 0; stage < s.stages; stage++ {
		tree := buildTree(X, residual, idx, 0, s.params, rng)
		s.fittedSet = append(s.fittedSet, tree)
		for i := range residual {
			residual[i] -= s.learningRate * predictTree(tree, X[i])
		}
	}
	s.fitted = true
	return nil
}

// Predict sums the damped stage predictions on top of the base value.
func (s *BoostSlot) Predict(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, fmt.Errorf("%s: predict before fit", s.name)
	}
	X = Sanitize(X)

	preds := make([]float64, len(X))
	for i, row := range X {
		v := s.base
		for _, tree := range s.fittedSet {
			v += s.learningRate * predictTree(tree, row)
		}
		preds[i] = v
	}
	return preds, nil
}
