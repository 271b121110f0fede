package regime

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/indicators"
)

// PlaceholderState marks the record emitted when history is too short to
// fit. It is never a valid fitted state index.
const PlaceholderState = -1

// Labeler turns an indicator frame into per-period regime records. States
// come out of the HMM with arbitrary indices; the labeler makes them
// meaningful by ranking states on the mean of one designated reference
// column: the lowest mean maps to Expansion, the highest to Contraction and
// everything in between to Transition.
type Labeler struct {
	states          int
	iterations      int
	minHistory      int
	referenceColumn string
	seed            int64
	log             zerolog.Logger
}

// NewLabeler creates a regime labeler
func NewLabeler(states, iterations, minHistory int, referenceColumn string, seed int64, log zerolog.Logger) *Labeler {
	return &Labeler{
		states:          states,
		iterations:      iterations,
		minHistory:      minHistory,
		referenceColumn: referenceColumn,
		seed:            seed,
		log:             log.With().Str("component", "regime_labeler").Logger(),
	}
}

// Label fits the state model over the full frame and emits one record per
// period. A frame shorter than the minimum history produces a single
// neutral placeholder record for the latest period instead of a fit.
func (l *Labeler) Label(frame *indicators.Frame) ([]domain.RegimeRecord, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("indicator frame is empty")
	}

	reference, ok := frame.Column(l.referenceColumn)
	if !ok {
		return nil, fmt.Errorf("reference column %q not in frame", l.referenceColumn)
	}

	if frame.Len() < l.minHistory {
		l.log.Warn().
			Int("periods", frame.Len()).
			Int("min_history", l.minHistory).
			Msg("Insufficient history for regime fit, emitting placeholder")
		return []domain.RegimeRecord{{
			Period:      frame.Periods[frame.Len()-1],
			State:       PlaceholderState,
			Label:       domain.RegimeTransition,
			Probability: 0,
			Confidence:  domain.ConfidenceLow,
		}}, nil
	}

	matrix, err := frame.Matrix(frame.ColumnNames())
	if err != nil {
		return nil, err
	}
	obs := standardize(matrix)

	model, err := FitHMM(obs, l.states, l.iterations, l.seed)
	if err != nil {
		return nil, fmt.Errorf("regime fit failed: %w", err)
	}
	path, err := model.Decode(obs)
	if err != nil {
		return nil, err
	}
	posteriors, err := model.Posteriors(obs)
	if err != nil {
		return nil, err
	}

	labels := l.assignLabels(path, reference)

	records := make([]domain.RegimeRecord, len(path))
	for t, state := range path {
		p := posteriors[t][state]
		records[t] = domain.RegimeRecord{
			Period:      frame.Periods[t],
			State:       state,
			Label:       labels[state],
			Probability: p,
			Confidence:  confidence(p),
		}
	}

	l.log.Info().
		Int("periods", len(records)).
		Int("states", l.states).
		Msg("Regime labels assigned")
	return records, nil
}

// assignLabels ranks states by the mean of the reference column over the
// periods decoded into each state, ascending. State indices break ties so
// the ordering is total. A state the path never visits ranks by +Inf, which
// pushes it to the contractionary end without disturbing the visited states.
func (l *Labeler) assignLabels(path []int, reference []float64) map[int]domain.RegimeLabel {
	sums := make([]float64, l.states)
	counts := make([]int, l.states)
	for t, state := range path {
		v := reference[t]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		sums[state] += v
		counts[state]++
	}

	type ranked struct {
		state int
		mean  float64
	}
	order := make([]ranked, l.states)
	for i := 0; i < l.states; i++ {
		mean := math.Inf(1)
		if counts[i] > 0 {
			mean = sums[i] / float64(counts[i])
		}
		order[i] = ranked{state: i, mean: mean}
	}
	sort.Slice(order, func(a, b int) bool {
		if order[a].mean != order[b].mean {
			return order[a].mean < order[b].mean
		}
		return order[a].state < order[b].state
	})

	labels := make(map[int]domain.RegimeLabel, l.states)
	for rank, r := range order {
		switch rank {
		case 0:
			labels[r.state] = domain.RegimeExpansion
		case l.states - 1:
			labels[r.state] = domain.RegimeContraction
		default:
			labels[r.state] = domain.RegimeTransition
		}
	}
	return labels
}

func confidence(p float64) domain.RegimeConfidence {
	switch {
	case p > 0.7:
		return domain.ConfidenceHigh
	case p > 0.5:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// standardize zero-fills non-finite cells and z-scores every column over the
// whole window. Constant columns stay centered at zero instead of dividing
// by a zero deviation.
func standardize(matrix [][]float64) [][]float64 {
	if len(matrix) == 0 {
		return nil
	}
	dims := len(matrix[0])
	out := make([][]float64, len(matrix))
	for t := range matrix {
		out[t] = make([]float64, dims)
		copy(out[t], matrix[t])
		for d, v := range out[t] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				out[t][d] = 0
			}
		}
	}

	col := make([]float64, len(out))
	for d := 0; d < dims; d++ {
		for t := range out {
			col[t] = out[t][d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for t := range out {
			out[t][d] = (out[t][d] - mean) / std
		}
	}
	return out
}
