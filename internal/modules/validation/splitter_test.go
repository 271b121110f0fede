package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/panel"
)

// fourMonthPanel builds 3 entities over 4 months with
// target = entity index * 0.01 * month index.
func fourMonthPanel() *panel.Panel {
	p := panel.New([]string{"f1"}, false)
	for month := 1; month <= 4; month++ {
		for entity := 1; entity <= 3; entity++ {
			p.Append(domain.PanelRow{
				Period:   domain.Period(month),
				EntityID: fmt.Sprintf("E%d", entity),
				Target:   float64(entity) * 0.01 * float64(month),
				Features: []float64{float64(month)},
			})
		}
	}
	return p
}

func TestSplit_YieldsOneWindowPerEvaluationPeriod(t *testing.T) {
	s := NewSplitter(3)

	windows, err := s.Split(fourMonthPanel())
	require.NoError(t, err)

	require.Len(t, windows, 2)
	assert.Equal(t, domain.Period(3), windows[0].Period)
	assert.Equal(t, domain.Period(4), windows[1].Period)
	assert.Len(t, windows[0].Train, 6, "months 1-2, 3 entities each")
	assert.Len(t, windows[0].Test, 3)
	assert.Len(t, windows[1].Train, 9)
}

func TestSplit_NoLookAhead(t *testing.T) {
	s := NewSplitter(2)

	windows, err := s.Split(fourMonthPanel())
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	for _, w := range windows {
		var maxTrain domain.Period
		for _, row := range w.Train {
			if row.Period > maxTrain {
				maxTrain = row.Period
			}
		}
		for _, row := range w.Test {
			assert.Equal(t, w.Period, row.Period)
		}
		assert.True(t, maxTrain < w.Period,
			"max train period %d must strictly precede test period %d", maxTrain, w.Period)
	}
}

func TestSplit_SkipsPeriodsWithoutTrainingData(t *testing.T) {
	// First evaluation period equals the first panel period: no prior
	// training rows exist, so that period is skipped silently.
	s := NewSplitter(1)

	windows, err := s.Split(fourMonthPanel())
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, domain.Period(2), windows[0].Period)
}

func TestSplit_EmptyPanelIsConfigurationError(t *testing.T) {
	s := NewSplitter(1)

	_, err := s.Split(panel.New([]string{"f1"}, false))
	assert.Error(t, err)

	_, err = s.Split(nil)
	assert.Error(t, err)
}

func TestEvaluationPeriods_MatchesSplit(t *testing.T) {
	s := NewSplitter(3)
	p := fourMonthPanel()

	periods := s.EvaluationPeriods(p)
	windows, err := s.Split(p)
	require.NoError(t, err)

	require.Len(t, periods, len(windows))
	for i, w := range windows {
		assert.Equal(t, w.Period, periods[i])
	}
}

func TestSplitAt_SinglePeriod(t *testing.T) {
	s := NewSplitter(3)

	train, test, err := s.SplitAt(fourMonthPanel(), 4)
	require.NoError(t, err)

	assert.Len(t, train, 9)
	assert.Len(t, test, 3)
}
