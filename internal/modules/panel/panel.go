// Package panel holds the input panel: entity-period observations with a
// realized target, an optional weight and a fixed-width feature vector.
package panel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/eris/internal/domain"
)

// Panel is an ordered collection of observations. Rows are kept sorted by
// (period, entity) so window extraction is a subslice operation. The panel
// is read-only once loaded; transformations return new panels instead of
// mutating in place, which keeps train/test windows free of hidden aliasing.
type Panel struct {
	FeatureColumns []string
	HasWeights     bool
	rows           []domain.PanelRow
	sorted         bool
}

// New creates an empty panel with the given feature columns.
func New(featureColumns []string, hasWeights bool) *Panel {
	return &Panel{
		FeatureColumns: featureColumns,
		HasWeights:     hasWeights,
	}
}

// Append adds rows to the panel.
func (p *Panel) Append(rows ...domain.PanelRow) {
	p.rows = append(p.rows, rows...)
	p.sorted = false
}

// Len returns the number of rows.
func (p *Panel) Len() int {
	return len(p.rows)
}

// Rows returns all rows in (period, entity) order.
func (p *Panel) Rows() []domain.PanelRow {
	p.ensureSorted()
	return p.rows
}

func (p *Panel) ensureSorted() {
	if p.sorted {
		return
	}
	sort.SliceStable(p.rows, func(i, j int) bool {
		if p.rows[i].Period != p.rows[j].Period {
			return p.rows[i].Period < p.rows[j].Period
		}
		return p.rows[i].EntityID < p.rows[j].EntityID
	})
	p.sorted = true
}

// Periods returns the distinct periods in ascending order.
func (p *Panel) Periods() []domain.Period {
	p.ensureSorted()
	periods := make([]domain.Period, 0)
	var last domain.Period
	for i, row := range p.rows {
		if i == 0 || row.Period != last {
			periods = append(periods, row.Period)
			last = row.Period
		}
	}
	return periods
}

// RowsBefore returns all rows with period strictly less than the given
// period. The returned slice is a view into the panel's sorted backing
// array; callers must not mutate it.
func (p *Panel) RowsBefore(period domain.Period) []domain.PanelRow {
	p.ensureSorted()
	idx := sort.Search(len(p.rows), func(i int) bool {
		return p.rows[i].Period >= period
	})
	return p.rows[:idx]
}

// RowsAt returns all rows with period exactly equal to the given period.
func (p *Panel) RowsAt(period domain.Period) []domain.PanelRow {
	p.ensureSorted()
	lo := sort.Search(len(p.rows), func(i int) bool {
		return p.rows[i].Period >= period
	})
	hi := sort.Search(len(p.rows), func(i int) bool {
		return p.rows[i].Period > period
	})
	return p.rows[lo:hi]
}

// Features extracts the feature matrix of a row set.
func Features(rows []domain.PanelRow) [][]float64 {
	X := make([][]float64, len(rows))
	for i, row := range rows {
		X[i] = row.Features
	}
	return X
}

// Targets extracts the realized target vector of a row set.
func Targets(rows []domain.PanelRow) []float64 {
	y := make([]float64, len(rows))
	for i, row := range rows {
		y[i] = row.Target
	}
	return y
}

// ImputeMissing returns a copy of the panel with NaN feature values replaced
// by the cross-sectional median of that feature within the same period.
// Features that are NaN across an entire period fall back to 0.
func (p *Panel) ImputeMissing() *Panel {
	p.ensureSorted()
	out := New(p.FeatureColumns, p.HasWeights)
	out.rows = make([]domain.PanelRow, len(p.rows))

	// Walk period blocks; rows are sorted so each block is contiguous.
	start := 0
	for start < len(p.rows) {
		end := start
		for end < len(p.rows) && p.rows[end].Period == p.rows[start].Period {
			end++
		}
		imputeBlock(p.rows[start:end], out.rows[start:end], len(p.FeatureColumns))
		start = end
	}
	out.sorted = true
	return out
}

// imputeBlock copies one period's rows into dst, filling NaN features with
// the period's per-column median.
func imputeBlock(src, dst []domain.PanelRow, nFeatures int) {
	medians := make([]float64, nFeatures)
	scratch := make([]float64, 0, len(src))
	for j := 0; j < nFeatures; j++ {
		scratch = scratch[:0]
		for _, row := range src {
			if j < len(row.Features) && !math.IsNaN(row.Features[j]) {
				scratch = append(scratch, row.Features[j])
			}
		}
		if len(scratch) == 0 {
			medians[j] = 0
			continue
		}
		sort.Float64s(scratch)
		// LinInterp averages the two middle values for even counts
		medians[j] = stat.Quantile(0.5, stat.LinInterp, scratch, nil)
	}

	for i, row := range src {
		features := make([]float64, nFeatures)
		for j := 0; j < nFeatures; j++ {
			v := math.NaN()
			if j < len(row.Features) {
				v = row.Features[j]
			}
			if math.IsNaN(v) {
				v = medians[j]
			}
			features[j] = v
		}
		dst[i] = domain.PanelRow{
			Period:   row.Period,
			EntityID: row.EntityID,
			Target:   row.Target,
			Weight:   row.Weight,
			Features: features,
		}
	}
}
