// Package regime infers discrete market states from a period-indexed
// indicator frame. A Gaussian-emission hidden Markov model is fitted over
// the full available history in one batch; decoded states are then mapped to
// stable labels by the ranking rule in labeler.go. Re-fitting with new data
// starts from scratch and may relabel historical periods, there is no online
// update.
package regime

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	varianceFloor = 1e-6
	logTolerance  = 1e-6
)

// HMM is a k-state hidden Markov model with diagonal-covariance Gaussian
// emissions. All distribution parameters are kept in log space where the
// forward/backward recursions need them.
type HMM struct {
	states   int
	dims     int
	logInit  []float64
	logTrans [][]float64
	means    [][]float64
	vars     [][]float64
}

// emRestarts is how many jittered initializations FitHMM tries before
// keeping the highest-likelihood fit. EM only finds a local optimum, so a
// single unlucky start can blend two emission clusters into one state.
const emRestarts = 3

// FitHMM runs expectation-maximization over the observation sequence, once
// per restart, and keeps the fit with the best log-likelihood. The fit is
// order-sensitive: the transition matrix is estimated from adjacent pairs,
// so shuffling the rows changes the result. Initialization is deterministic
// for a given seed.
func FitHMM(obs [][]float64, states, iterations int, seed int64) (*HMM, error) {
	if states < 2 {
		return nil, fmt.Errorf("need at least 2 states, got %d", states)
	}
	if len(obs) < states {
		return nil, fmt.Errorf("need at least %d observations for %d states, got %d", states, states, len(obs))
	}
	dims := len(obs[0])
	if dims == 0 {
		return nil, fmt.Errorf("observations have no columns")
	}
	for t, row := range obs {
		if len(row) != dims {
			return nil, fmt.Errorf("observation %d has %d columns, expected %d", t, len(row), dims)
		}
	}

	var best *HMM
	bestLL := math.Inf(-1)
	var lastErr error
	for r := 0; r < emRestarts; r++ {
		h := initHMM(obs, states, dims, seed+int64(r))
		ll, err := h.runEM(obs, iterations)
		if err != nil {
			lastErr = err
			continue
		}
		if ll > bestLL {
			bestLL = ll
			best = h
		}
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// runEM iterates emStep to convergence and returns the final
// log-likelihood.
func (h *HMM) runEM(obs [][]float64, iterations int) (float64, error) {
	prevLL := math.Inf(-1)
	last := math.Inf(-1)
	for iter := 0; iter < iterations; iter++ {
		ll := h.emStep(obs)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return 0, fmt.Errorf("likelihood diverged at iteration %d", iter)
		}
		last = ll
		if iter > 0 && ll-prevLL < logTolerance {
			break
		}
		prevLL = ll
	}
	return last, nil
}

// initHMM seeds the model: state means at per-column quantiles (which
// breaks the label symmetry that makes EM collapse every state onto the
// global mean) with a small seeded jitter, narrow per-state variances so
// each state starts committed to its own quantile region, and a uniform
// transition matrix. A self-transition bias here would let a rapidly
// alternating sequence settle into cycle-position states instead of
// value-based ones.
func initHMM(obs [][]float64, states, dims int, seed int64) *HMM {
	rng := rand.New(rand.NewSource(seed))

	colVar := make([]float64, dims)
	sorted := make([][]float64, dims)
	col := make([]float64, len(obs))
	for d := 0; d < dims; d++ {
		for t := range obs {
			col[t] = obs[t][d]
		}
		colVar[d] = math.Max(stat.Variance(col, nil), varianceFloor)
		sorted[d] = make([]float64, len(col))
		copy(sorted[d], col)
		sort.Float64s(sorted[d])
	}

	h := &HMM{
		states:   states,
		dims:     dims,
		logInit:  make([]float64, states),
		logTrans: make([][]float64, states),
		means:    make([][]float64, states),
		vars:     make([][]float64, states),
	}

	for i := 0; i < states; i++ {
		h.means[i] = make([]float64, dims)
		h.vars[i] = make([]float64, dims)
		q := (float64(i) + 0.5) / float64(states)
		for d := 0; d < dims; d++ {
			h.means[i][d] = stat.Quantile(q, stat.Empirical, sorted[d], nil) +
				0.01*math.Sqrt(colVar[d])*rng.NormFloat64()
			h.vars[i][d] = math.Max(colVar[d]/float64(states*states), varianceFloor)
		}

		h.logInit[i] = math.Log(1.0 / float64(states))
		h.logTrans[i] = make([]float64, states)
		for j := 0; j < states; j++ {
			h.logTrans[i][j] = math.Log(1.0 / float64(states))
		}
	}
	return h
}

// logEmission returns the log density of one observation under one state.
func (h *HMM) logEmission(state int, row []float64) float64 {
	lp := 0.0
	for d := 0; d < h.dims; d++ {
		v := h.vars[state][d]
		diff := row[d] - h.means[state][d]
		lp += -0.5*math.Log(2*math.Pi*v) - diff*diff/(2*v)
	}
	return lp
}

func (h *HMM) emissionMatrix(obs [][]float64) [][]float64 {
	logB := make([][]float64, len(obs))
	for t, row := range obs {
		logB[t] = make([]float64, h.states)
		for i := 0; i < h.states; i++ {
			logB[t][i] = h.logEmission(i, row)
		}
	}
	return logB
}

// forwardBackward computes the log forward and backward lattices and the
// sequence log-likelihood.
func (h *HMM) forwardBackward(logB [][]float64) (alpha, beta [][]float64, ll float64) {
	T := len(logB)
	alpha = make([][]float64, T)
	beta = make([][]float64, T)
	work := make([]float64, h.states)

	alpha[0] = make([]float64, h.states)
	for i := 0; i < h.states; i++ {
		alpha[0][i] = h.logInit[i] + logB[0][i]
	}
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, h.states)
		for j := 0; j < h.states; j++ {
			for i := 0; i < h.states; i++ {
				work[i] = alpha[t-1][i] + h.logTrans[i][j]
			}
			alpha[t][j] = floats.LogSumExp(work) + logB[t][j]
		}
	}
	ll = floats.LogSumExp(alpha[T-1])

	beta[T-1] = make([]float64, h.states)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, h.states)
		for i := 0; i < h.states; i++ {
			for j := 0; j < h.states; j++ {
				work[j] = h.logTrans[i][j] + logB[t+1][j] + beta[t+1][j]
			}
			beta[t][i] = floats.LogSumExp(work)
		}
	}
	return alpha, beta, ll
}

// emStep runs one expectation-maximization iteration in place and returns
// the log-likelihood of the data under the parameters it started from.
func (h *HMM) emStep(obs [][]float64) float64 {
	T := len(obs)
	logB := h.emissionMatrix(obs)
	alpha, beta, ll := h.forwardBackward(logB)

	gamma := make([][]float64, T)
	for t := 0; t < T; t++ {
		gamma[t] = make([]float64, h.states)
		for i := 0; i < h.states; i++ {
			gamma[t][i] = math.Exp(alpha[t][i] + beta[t][i] - ll)
		}
	}

	xiSum := make([][]float64, h.states)
	for i := range xiSum {
		xiSum[i] = make([]float64, h.states)
	}
	for t := 0; t < T-1; t++ {
		for i := 0; i < h.states; i++ {
			for j := 0; j < h.states; j++ {
				xiSum[i][j] += math.Exp(alpha[t][i] + h.logTrans[i][j] + logB[t+1][j] + beta[t+1][j] - ll)
			}
		}
	}

	for i := 0; i < h.states; i++ {
		h.logInit[i] = math.Log(math.Max(gamma[0][i], 1e-300))

		rowSum := 0.0
		for j := 0; j < h.states; j++ {
			rowSum += xiSum[i][j]
		}
		if rowSum > 0 {
			for j := 0; j < h.states; j++ {
				h.logTrans[i][j] = math.Log(math.Max(xiSum[i][j]/rowSum, 1e-300))
			}
		}

		gammaSum := 0.0
		for t := 0; t < T; t++ {
			gammaSum += gamma[t][i]
		}
		if gammaSum < 1e-12 {
			// State collapsed, keep its previous emission parameters
			continue
		}
		for d := 0; d < h.dims; d++ {
			mean := 0.0
			for t := 0; t < T; t++ {
				mean += gamma[t][i] * obs[t][d]
			}
			mean /= gammaSum

			variance := 0.0
			for t := 0; t < T; t++ {
				diff := obs[t][d] - mean
				variance += gamma[t][i] * diff * diff
			}
			variance /= gammaSum

			h.means[i][d] = mean
			h.vars[i][d] = math.Max(variance, varianceFloor)
		}
	}
	return ll
}

// Decode returns the Viterbi (jointly most likely) state path.
func (h *HMM) Decode(obs [][]float64) ([]int, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations to decode")
	}
	logB := h.emissionMatrix(obs)
	T := len(obs)

	delta := make([][]float64, T)
	backptr := make([][]int, T)
	delta[0] = make([]float64, h.states)
	for i := 0; i < h.states; i++ {
		delta[0][i] = h.logInit[i] + logB[0][i]
	}
	for t := 1; t < T; t++ {
		delta[t] = make([]float64, h.states)
		backptr[t] = make([]int, h.states)
		for j := 0; j < h.states; j++ {
			best := math.Inf(-1)
			bestState := 0
			for i := 0; i < h.states; i++ {
				score := delta[t-1][i] + h.logTrans[i][j]
				if score > best {
					best = score
					bestState = i
				}
			}
			delta[t][j] = best + logB[t][j]
			backptr[t][j] = bestState
		}
	}

	path := make([]int, T)
	best := math.Inf(-1)
	for i := 0; i < h.states; i++ {
		if delta[T-1][i] > best {
			best = delta[T-1][i]
			path[T-1] = i
		}
	}
	for t := T - 1; t > 0; t-- {
		path[t-1] = backptr[t][path[t]]
	}
	return path, nil
}

// Posteriors returns the per-period smoothed state probabilities.
func (h *HMM) Posteriors(obs [][]float64) ([][]float64, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations")
	}
	logB := h.emissionMatrix(obs)
	alpha, beta, ll := h.forwardBackward(logB)

	gamma := make([][]float64, len(obs))
	for t := range obs {
		gamma[t] = make([]float64, h.states)
		for i := 0; i < h.states; i++ {
			gamma[t][i] = math.Exp(alpha[t][i] + beta[t][i] - ll)
		}
	}
	return gamma, nil
}

// LogLikelihood scores a sequence under the fitted model.
func (h *HMM) LogLikelihood(obs [][]float64) float64 {
	_, _, ll := h.forwardBackward(h.emissionMatrix(obs))
	return ll
}
