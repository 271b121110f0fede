package domain

// PanelRow is one observation: an entity at a period with a realized target,
// an optional weight (e.g. lagged market capitalization) and a fixed-width
// feature vector. Within one period entity IDs are unique; the same entity
// recurs across periods.
type PanelRow struct {
	Period   Period
	EntityID string
	Target   float64
	Weight   float64 // 0 when the panel carries no weight column
	Features []float64
}

// PredictionRow is one out-of-sample prediction record: the realized target
// and weight for an entity-period, plus one predicted value per model.
// Created once by the evaluator and immutable afterward.
type PredictionRow struct {
	Period   Period
	EntityID string
	Actual   float64
	Weight   float64
	Preds    map[string]float64
}

// PredictionTable is the full out-of-sample prediction set for one
// evaluation run.
type PredictionTable struct {
	RunID      string
	Models     []string
	HasWeights bool
	Rows       []PredictionRow
}

// ModelMetrics are the scalar out-of-sample quality metrics for one model,
// computed over the full concatenated prediction set.
type ModelMetrics struct {
	OOSR2 float64 `json:"oos_r2"`
	RMSE  float64 `json:"rmse"`
	MAE   float64 `json:"mae"`
}

// RegimeLabel is the human-meaningful label assigned to an inferred state.
type RegimeLabel string

const (
	// RegimeExpansion - the state with the lowest reference-column mean
	RegimeExpansion RegimeLabel = "Expansion"
	// RegimeTransition - every state between the two extremes
	RegimeTransition RegimeLabel = "Transition"
	// RegimeContraction - the state with the highest reference-column mean
	RegimeContraction RegimeLabel = "Contraction"
)

// RegimeConfidence buckets the decoded state's posterior probability.
type RegimeConfidence string

const (
	ConfidenceHigh   RegimeConfidence = "High"   // posterior > 0.7
	ConfidenceMedium RegimeConfidence = "Medium" // posterior > 0.5
	ConfidenceLow    RegimeConfidence = "Low"
)

// RegimeRecord is one period's inferred state. State indices are arbitrary
// fitting artifacts; only Label carries meaning across fits. One record per
// period, upsert semantics on the period key.
type RegimeRecord struct {
	Period      Period
	State       int
	Label       RegimeLabel
	Probability float64
	Confidence  RegimeConfidence
}

// StressRecord is one period's bounded 0-100 stress score.
type StressRecord struct {
	Period Period
	Score  float64
}

// PortfolioRecord is one period of the decile long-short strategy against
// the value-weighted market benchmark. Cumulative series are compounded
// products of (1 + return), not sums.
type PortfolioRecord struct {
	Period         Period
	StrategyReturn float64
	LongReturn     float64
	ShortReturn    float64
	MarketReturn   float64
	CumStrategy    float64
	CumMarket      float64
}

// PortfolioSummary holds the derived performance statistics of a strategy.
type PortfolioSummary struct {
	SharpeRatio     float64 `json:"sharpe_ratio"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	AnnualizedAlpha float64 `json:"annualized_alpha"`
	MeanSpread      float64 `json:"long_short_spread_mean"`
}
