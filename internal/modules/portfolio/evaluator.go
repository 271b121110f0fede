// Package portfolio turns one model's out-of-sample predictions into a
// decile long-short strategy series against the value-weighted market and
// derives the summary statistics (Sharpe, drawdown, annualized alpha).
package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/eris/internal/domain"
)

const sharpeEpsilon = 1e-9

// deciles is fixed by the strategy definition: long the top tenth, short
// the bottom tenth.
const deciles = 10

// Evaluator builds the strategy series for one prediction table.
type Evaluator struct {
	frequency domain.Frequency
	log       zerolog.Logger
}

// NewEvaluator creates a portfolio evaluator
func NewEvaluator(frequency domain.Frequency, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		frequency: frequency,
		log:       log.With().Str("component", "portfolio_evaluator").Logger(),
	}
}

// Evaluate computes the per-period strategy record series for one model.
// Periods with too few entities to populate both extreme deciles are skipped
// and logged rather than scored on a degenerate bucket.
func (e *Evaluator) Evaluate(table *domain.PredictionTable, model string) ([]domain.PortfolioRecord, error) {
	if table == nil || len(table.Rows) == 0 {
		return nil, fmt.Errorf("prediction table is empty")
	}

	byPeriod := make(map[domain.Period][]domain.PredictionRow)
	var periods []domain.Period
	for _, row := range table.Rows {
		if _, ok := row.Preds[model]; !ok {
			continue
		}
		if _, seen := byPeriod[row.Period]; !seen {
			periods = append(periods, row.Period)
		}
		byPeriod[row.Period] = append(byPeriod[row.Period], row)
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("model %q has no predictions", model)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	var records []domain.PortfolioRecord
	cumStrategy, cumMarket := 1.0, 1.0
	for _, period := range periods {
		rows := byPeriod[period]
		long, short, ok := extremeDeciles(rows, model)
		if !ok {
			e.log.Warn().
				Str("period", period.Label(e.frequency)).
				Int("entities", len(rows)).
				Msg("Too few entities for decile buckets, skipping period")
			continue
		}

		// Value-weighting is all-or-nothing across the two legs: a zero
		// total weight on either side drops both to simple averages.
		valueWeighted := table.HasWeights && totalWeight(long) > 0 && totalWeight(short) > 0
		longReturn := legReturn(long, valueWeighted)
		shortReturn := legReturn(short, valueWeighted)
		strategy := longReturn - shortReturn
		market := legReturn(rows, table.HasWeights && totalWeight(rows) > 0)

		cumStrategy *= 1 + strategy
		cumMarket *= 1 + market
		records = append(records, domain.PortfolioRecord{
			Period:         period,
			StrategyReturn: strategy,
			LongReturn:     longReturn,
			ShortReturn:    shortReturn,
			MarketReturn:   market,
			CumStrategy:    cumStrategy - 1,
			CumMarket:      cumMarket - 1,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no period had enough entities for deciles")
	}
	return records, nil
}

// Summarize derives the performance statistics from a record series.
func (e *Evaluator) Summarize(records []domain.PortfolioRecord) domain.PortfolioSummary {
	strategy := make([]float64, len(records))
	market := make([]float64, len(records))
	for i, rec := range records {
		strategy[i] = rec.StrategyReturn
		market[i] = rec.MarketReturn
	}

	factor := e.frequency.PeriodsPerYear()
	summary := domain.PortfolioSummary{
		SharpeRatio: SharpeRatio(strategy, factor),
		MaxDrawdown: MaxDrawdown(strategy),
	}
	if len(records) > 0 {
		meanStrategy := stat.Mean(strategy, nil)
		meanMarket := stat.Mean(market, nil)
		summary.AnnualizedAlpha = (meanStrategy - meanMarket) * factor
		summary.MeanSpread = meanStrategy
	}
	return summary
}

// DecileOf returns the bucket index (0 = lowest predictions, 9 = highest)
// each row falls into under the stable ranking. Exposed for the partition
// tests and the API's decile breakdown.
func DecileOf(rows []domain.PredictionRow, model string) []int {
	order := stableOrder(rows, model)
	buckets := make([]int, len(rows))
	n := len(rows)
	for rank, idx := range order {
		buckets[idx] = rank * deciles / n
	}
	return buckets
}

// stableOrder returns row indices sorted by prediction ascending; ties keep
// the incoming row order, so equal predictions never skew bucket sizes
// between runs.
func stableOrder(rows []domain.PredictionRow, model string) []int {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].Preds[model] < rows[order[b]].Preds[model]
	})
	return order
}

// extremeDeciles splits the period's rows and returns the top and bottom
// buckets. ok is false when either extreme bucket would be empty.
func extremeDeciles(rows []domain.PredictionRow, model string) (long, short []domain.PredictionRow, ok bool) {
	n := len(rows)
	if n < deciles {
		return nil, nil, false
	}
	order := stableOrder(rows, model)
	for rank, idx := range order {
		switch rank * deciles / n {
		case 0:
			short = append(short, rows[idx])
		case deciles - 1:
			long = append(long, rows[idx])
		}
	}
	return long, short, len(long) > 0 && len(short) > 0
}

func totalWeight(rows []domain.PredictionRow) float64 {
	total := 0.0
	for _, row := range rows {
		total += row.Weight
	}
	return total
}

// legReturn averages realized targets over one leg, weight-proportional
// when valueWeighted is set.
func legReturn(rows []domain.PredictionRow, valueWeighted bool) float64 {
	if len(rows) == 0 {
		return 0
	}
	if valueWeighted {
		weighted := 0.0
		for _, row := range rows {
			weighted += row.Weight * row.Actual
		}
		return weighted / totalWeight(rows)
	}
	sum := 0.0
	for _, row := range rows {
		sum += row.Actual
	}
	return sum / float64(len(rows))
}

// SharpeRatio annualizes mean over deviation. Fewer than 2 observations is
// defined as 0, never NaN.
func SharpeRatio(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	return mean / (std + sharpeEpsilon) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the worst peak-to-trough wealth decline, 0 or negative.
func MaxDrawdown(returns []float64) float64 {
	wealth := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		if dd := wealth/peak - 1; dd < worst {
			worst = dd
		}
	}
	return worst
}

// CumulativeWealth compounds a return series into a wealth path starting
// at 1.
func CumulativeWealth(returns []float64) []float64 {
	wealth := make([]float64, len(returns))
	w := 1.0
	for i, r := range returns {
		w *= 1 + r
		wealth[i] = w
	}
	return wealth
}
