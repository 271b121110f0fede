package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/domain"
)

func conditionalFixture(rowsPerPeriod int) *domain.PredictionTable {
	table := &domain.PredictionTable{Models: []string{"OLS"}}
	for period := domain.Period(1); period <= 4; period++ {
		for i := 0; i < rowsPerPeriod; i++ {
			actual := float64(i) * 0.01
			table.Rows = append(table.Rows, domain.PredictionRow{
				Period:   period,
				EntityID: "E",
				Actual:   actual,
				Preds:    map[string]float64{"OLS": actual}, // perfect model
			})
		}
	}
	return table
}

func conditionalRegimes() []domain.RegimeRecord {
	return []domain.RegimeRecord{
		{Period: 1, Label: domain.RegimeExpansion},
		{Period: 2, Label: domain.RegimeExpansion},
		{Period: 3, Label: domain.RegimeContraction},
		// Period 4 has no regime record: its rows drop out of the join
	}
}

func TestRegimeConditionalR2_PerRegimeScores(t *testing.T) {
	out := RegimeConditionalR2(conditionalFixture(5), conditionalRegimes(), 5)

	require.Contains(t, out, "OLS")
	// Expansion joins 10 rows (2 periods x 5), Contraction only 5
	assert.InDelta(t, 1.0, out["OLS"][string(domain.RegimeExpansion)], 1e-12)
	assert.Contains(t, out["OLS"], string(domain.RegimeContraction))
}

func TestRegimeConditionalR2_OmitsThinCombinations(t *testing.T) {
	out := RegimeConditionalR2(conditionalFixture(5), conditionalRegimes(), 6)

	// Expansion has 10 joined rows, Contraction only 5 < 6
	require.Contains(t, out, "OLS")
	assert.Contains(t, out["OLS"], string(domain.RegimeExpansion))
	assert.NotContains(t, out["OLS"], string(domain.RegimeContraction))
}

func TestRegimeConditionalR2_EmptyInputs(t *testing.T) {
	assert.Empty(t, RegimeConditionalR2(nil, conditionalRegimes(), 1))
	assert.Empty(t, RegimeConditionalR2(conditionalFixture(2), nil, 1))
}
