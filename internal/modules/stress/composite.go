// Package stress computes the bounded 0-100 stress composite from a signed
// weighting of indicator columns. It is independent of the regime labeler
// and stays computable on a single column or a short history.
package stress

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/indicators"
)

// rangeEpsilon guards the min-max denominator against a constant series.
const rangeEpsilon = 1e-9

// Composite builds the stress index. A negative weight means a higher value
// of that column reduces stress (a healthy term spread, for instance).
type Composite struct {
	weights map[string]float64
	log     zerolog.Logger
}

// NewComposite creates a stress composite
func NewComposite(weights map[string]float64, log zerolog.Logger) *Composite {
	return &Composite{
		weights: weights,
		log:     log.With().Str("component", "stress_composite").Logger(),
	}
}

// Compute returns one score per frame period, min-max scaled to 0-100 over
// the observed window. Weighted columns absent from the frame are skipped;
// it is an error only when none of them are present. Non-finite cells in a
// present column count as zero.
func (c *Composite) Compute(frame *indicators.Frame) ([]domain.StressRecord, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("indicator frame is empty")
	}

	raw := make([]float64, frame.Len())
	used := 0
	for name, weight := range c.weights {
		column, ok := frame.Column(name)
		if !ok {
			c.log.Debug().Str("column", name).Msg("Weighted column absent from frame, skipping")
			continue
		}
		used++
		for i, v := range column {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			raw[i] += weight * v
		}
	}
	if used == 0 {
		return nil, fmt.Errorf("none of the %d weighted columns are present", len(c.weights))
	}

	min, max := raw[0], raw[0]
	for _, v := range raw[1:] {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}

	records := make([]domain.StressRecord, frame.Len())
	for i, v := range raw {
		records[i] = domain.StressRecord{
			Period: frame.Periods[i],
			Score:  (v - min) / (max - min + rangeEpsilon) * 100,
		}
	}
	return records, nil
}
