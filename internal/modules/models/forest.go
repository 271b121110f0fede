package models

import (
	"fmt"
	"math"
	"math/rand"
)

// ForestSlot is a random forest regressor: bagged regression trees with
// per-split feature subsampling. No scaling - trees are scale-invariant.
// The random source is seeded at construction so repeated runs reproduce.
type ForestSlot struct {
	name       string
	trees      int
	params     treeParams
	seed       int64
	fittedSet  []*treeNode
	fitted     bool
}

// NewRandomForest creates a random forest slot.
func NewRandomForest(trees, maxDepth int, seed int64) *ForestSlot {
	return &ForestSlot{
		name:  "RF",
		trees: trees,
		params: treeParams{
			maxDepth:       maxDepth,
			minSamplesLeaf: 3,
		},
		seed: seed,
	}
}

// Name returns the slot name.
func (s *ForestSlot) Name() string { return s.name }

// Fit grows the forest on bootstrap samples of the training rows.
func (s *ForestSlot) Fit(X [][]float64, y []float64) error {
	X = Sanitize(X)
	y = SanitizeVector(y)
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%s: invalid training shape (%d rows, %d targets)", s.name, len(X), len(y))
	}

	rng := rand.New(rand.NewSource(s.seed))
	params := s.params
	// sqrt(p) features per split, the usual forest default
	params.maxFeatures = int(math.Max(1, math.Sqrt(float64(len(X[0])))))

	s.fittedSet = make([]*treeNode, s.trees)
	n := len(X)
	for t := 0; t < s.trees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		s.fittedSet[t] = buildTree(X, y, idx, 0, params, rng)
	}
	s.fitted = true
	return nil
}

// Predict averages the trees' predictions.
func (s *ForestSlot) Predict(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, fmt.Errorf("%s: predict before fit", s.name)
	}
	X = Sanitize(X)

	preds := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for _, tree := range s.fittedSet {
			sum += predictTree(tree, row)
		}
		preds[i] = sum / float64(len(s.fittedSet))
	}
	return preds, nil
}
