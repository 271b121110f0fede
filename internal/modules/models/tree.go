package models

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Leaves carry the mean target
// of their training rows.
type treeNode struct {
	feature   int
	threshold float64
	value     float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) isLeaf() bool {
	return n.left == nil
}

// treeParams control regression tree growth.
type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	// Number of features considered per split; 0 means all.
	maxFeatures int
}

// buildTree grows a regression tree on the rows indexed by idx, minimizing
// within-node squared error greedily.
func buildTree(X [][]float64, y []float64, idx []int, depth int, params treeParams, rng *rand.Rand) *treeNode {
	node := &treeNode{feature: -1, value: meanAt(y, idx)}
	if depth >= params.maxDepth || len(idx) < 2*params.minSamplesLeaf {
		return node
	}

	feature, threshold, ok := bestSplit(X, y, idx, params, rng)
	if !ok {
		return node
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) < params.minSamplesLeaf || len(rightIdx) < params.minSamplesLeaf {
		return node
	}

	node.feature = feature
	node.threshold = threshold
	node.left = buildTree(X, y, leftIdx, depth+1, params, rng)
	node.right = buildTree(X, y, rightIdx, depth+1, params, rng)
	return node
}

// bestSplit finds the (feature, threshold) pair with the lowest weighted
// squared error over a random subset of features.
func bestSplit(X [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) (int, float64, bool) {
	nFeatures := len(X[idx[0]])
	features := make([]int, nFeatures)
	for j := range features {
		features[j] = j
	}
	if params.maxFeatures > 0 && params.maxFeatures < nFeatures {
		rng.Shuffle(nFeatures, func(a, b int) {
			features[a], features[b] = features[b], features[a]
		})
		features = features[:params.maxFeatures]
	}

	bestScore := math.Inf(1)
	bestFeature := -1
	bestThreshold := 0.0

	// Sorted order per candidate feature lets the split scan maintain
	// running sums in one pass.
	order := make([]int, len(idx))
	for _, feature := range features {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return X[order[a]][feature] < X[order[b]][feature]
		})

		var sumLeft, sumSqLeft float64
		sumRight, sumSqRight := 0.0, 0.0
		for _, i := range order {
			sumRight += y[i]
			sumSqRight += y[i] * y[i]
		}

		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			sumLeft += y[i]
			sumSqLeft += y[i] * y[i]
			sumRight -= y[i]
			sumSqRight -= y[i] * y[i]

			// Cannot split between equal feature values
			if X[order[pos]][feature] == X[order[pos+1]][feature] {
				continue
			}
			nLeft := float64(pos + 1)
			nRight := float64(len(order) - pos - 1)
			if int(nLeft) < params.minSamplesLeaf || int(nRight) < params.minSamplesLeaf {
				continue
			}

			// Sum of squared errors around each side's mean
			score := (sumSqLeft - sumLeft*sumLeft/nLeft) + (sumSqRight - sumRight*sumRight/nRight)
			if score < bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = (X[order[pos]][feature] + X[order[pos+1]][feature]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// predictTree walks the tree for one row.
func predictTree(node *treeNode, row []float64) float64 {
	for !node.isLeaf() {
		if row[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
