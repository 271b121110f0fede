// Package validation implements the expanding-window out-of-sample protocol:
// the temporal splitter, the scalar quality metrics and the
// regime-conditional scorer. Train windows always end strictly before their
// test period, so no future information can leak into a fit.
package validation

import (
	"fmt"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/panel"
)

// Window is one (train, test) pair of the expanding-window protocol.
// Train holds every row with period strictly before Period; Test holds the
// rows at exactly Period. Both slices are read-only views into the panel.
type Window struct {
	Period domain.Period
	Train  []domain.PanelRow
	Test   []domain.PanelRow
}

// Splitter partitions a panel into expanding train/test windows ordered by
// time, starting at a configurable first evaluation period.
type Splitter struct {
	firstEvaluation domain.Period
}

// NewSplitter creates a splitter with the given first evaluation period.
func NewSplitter(firstEvaluation domain.Period) *Splitter {
	return &Splitter{firstEvaluation: firstEvaluation}
}

// Split returns the ordered sequence of (train, test) windows: one window
// per distinct period at or after the first evaluation period. Periods with
// no prior training rows or no test rows are skipped silently.
func (s *Splitter) Split(p *panel.Panel) ([]Window, error) {
	if p == nil || p.Len() == 0 {
		return nil, fmt.Errorf("panel has no periods")
	}

	var windows []Window
	for _, period := range p.Periods() {
		if period < s.firstEvaluation {
			continue
		}
		train := p.RowsBefore(period)
		test := p.RowsAt(period)
		if len(train) == 0 || len(test) == 0 {
			continue
		}
		windows = append(windows, Window{Period: period, Train: train, Test: test})
	}
	return windows, nil
}

// EvaluationPeriods returns the periods that Split will evaluate, for
// progress reporting.
func (s *Splitter) EvaluationPeriods(p *panel.Panel) []domain.Period {
	if p == nil {
		return nil
	}
	var periods []domain.Period
	for _, period := range p.Periods() {
		if period < s.firstEvaluation {
			continue
		}
		if len(p.RowsBefore(period)) == 0 || len(p.RowsAt(period)) == 0 {
			continue
		}
		periods = append(periods, period)
	}
	return periods
}

// SplitAt extracts the single (train, test) pair for one evaluation period.
func (s *Splitter) SplitAt(p *panel.Panel, period domain.Period) (train, test []domain.PanelRow, err error) {
	if p == nil || p.Len() == 0 {
		return nil, nil, fmt.Errorf("panel has no periods")
	}
	return p.RowsBefore(period), p.RowsAt(period), nil
}
