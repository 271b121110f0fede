// Package indicators holds the period-indexed indicator frame consumed by
// the regime labeler and the stress composite, plus the rolling feature
// builder that turns a raw daily series into labeler-ready columns.
package indicators

import (
	"fmt"
	"sort"

	"github.com/aristath/eris/internal/domain"
)

// Frame is a period-indexed table of named numeric columns. Every column is
// aligned to Periods, which are strictly ascending. Missing observations are
// stored as NaN; consumers decide how to fill them.
type Frame struct {
	Periods []domain.Period
	Columns map[string][]float64
}

// NewFrame creates an empty frame over the given periods. The periods must
// already be sorted ascending; the constructor rejects anything else so the
// ordering guarantee holds for every column added later.
func NewFrame(periods []domain.Period) (*Frame, error) {
	for i := 1; i < len(periods); i++ {
		if periods[i] <= periods[i-1] {
			return nil, fmt.Errorf("periods must be strictly ascending, got %d after %d", periods[i], periods[i-1])
		}
	}
	return &Frame{
		Periods: periods,
		Columns: make(map[string][]float64),
	}, nil
}

// SetColumn attaches a column. The values must align with Periods.
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.Periods) {
		return fmt.Errorf("column %s has %d values for %d periods", name, len(values), len(f.Periods))
	}
	f.Columns[name] = values
	return nil
}

// Column returns a named column and whether it exists.
func (f *Frame) Column(name string) ([]float64, bool) {
	values, ok := f.Columns[name]
	return values, ok
}

// ColumnNames returns the column names in stable (sorted) order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of periods.
func (f *Frame) Len() int {
	return len(f.Periods)
}

// Matrix returns the frame as one row per period over the named columns.
// Unknown column names are an error so a typo in configuration surfaces
// immediately instead of silently fitting on a smaller matrix.
func (f *Frame) Matrix(names []string) ([][]float64, error) {
	rows := make([][]float64, len(f.Periods))
	for i := range rows {
		rows[i] = make([]float64, len(names))
	}
	for j, name := range names {
		column, ok := f.Columns[name]
		if !ok {
			return nil, fmt.Errorf("unknown indicator column %q", name)
		}
		for i := range column {
			rows[i][j] = column[i]
		}
	}
	return rows, nil
}
