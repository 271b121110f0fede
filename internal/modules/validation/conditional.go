package validation

import (
	"github.com/aristath/eris/internal/domain"
)

// RegimeConditionalR2 joins prediction records to regime records by period
// and recomputes the out-of-sample R² separately within each regime label,
// for each model. Combinations with fewer than minSamples joined rows are
// omitted rather than reported with a statistically meaningless score.
// Returns model -> regime label -> r2.
func RegimeConditionalR2(
	preds *domain.PredictionTable,
	regimes []domain.RegimeRecord,
	minSamples int,
) map[string]map[string]float64 {
	if preds == nil || len(preds.Rows) == 0 || len(regimes) == 0 {
		return map[string]map[string]float64{}
	}

	labelByPeriod := make(map[domain.Period]domain.RegimeLabel, len(regimes))
	for _, rec := range regimes {
		labelByPeriod[rec.Period] = rec.Label
	}

	type pair struct {
		actual    []float64
		predicted []float64
	}
	// model -> label -> joined observations
	joined := make(map[string]map[domain.RegimeLabel]*pair)
	for _, model := range preds.Models {
		joined[model] = make(map[domain.RegimeLabel]*pair)
	}

	for _, row := range preds.Rows {
		label, ok := labelByPeriod[row.Period]
		if !ok {
			continue
		}
		for _, model := range preds.Models {
			predicted, ok := row.Preds[model]
			if !ok {
				continue
			}
			bucket := joined[model][label]
			if bucket == nil {
				bucket = &pair{}
				joined[model][label] = bucket
			}
			bucket.actual = append(bucket.actual, row.Actual)
			bucket.predicted = append(bucket.predicted, predicted)
		}
	}

	out := make(map[string]map[string]float64)
	for model, byLabel := range joined {
		for label, bucket := range byLabel {
			if len(bucket.actual) < minSamples {
				continue
			}
			if out[model] == nil {
				out[model] = make(map[string]float64)
			}
			out[model][string(label)] = OOSR2(bucket.actual, bucket.predicted)
		}
	}
	return out
}
