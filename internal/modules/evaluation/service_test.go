package evaluation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/database"
	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/portfolio"
)

func serviceDB(t *testing.T, name, schema string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Name:    schema,
		Profile: database.ProfileResults,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

// servicePanelRows builds 12 entities over 8 months with a linear target so
// the OLS slot has something learnable.
func servicePanelRows() []domain.PanelRow {
	var rows []domain.PanelRow
	for m := 0; m < 8; m++ {
		period := domain.MonthPeriod(2020, time.January) + domain.Period(m)
		for e := 0; e < 12; e++ {
			x1 := float64(e) / 12.0
			x2 := float64(m) / 8.0
			rows = append(rows, domain.PanelRow{
				Period:   period,
				EntityID: fmt.Sprintf("e%02d", e),
				Target:   0.5*x1 - 0.2*x2 + 0.01,
				Features: []float64{x1, x2},
			})
		}
	}
	return rows
}

func newTestService(t *testing.T, tag string) (*Service, *Repository, *portfolio.Repository, *panel.Repository) {
	t.Helper()
	panelDB := serviceDB(t, "svc_panel_"+tag, "panel")
	resultsDB := serviceDB(t, "svc_results_"+tag, "results")

	panelRepo := panel.NewRepository(panelDB.Conn(), zerolog.Nop())
	evalRepo := NewRepository(resultsDB.Conn(), zerolog.Nop())
	portfolioRepo := portfolio.NewRepository(resultsDB.Conn(), zerolog.Nop())

	svc := NewService(ServiceConfig{
		FirstEvaluation: domain.MonthPeriod(2020, time.May),
		RetrainEvery:    1,
		Frequency:       domain.FrequencyMonthly,
		Models:          []string{"OLS"},
		Seed:            42,
		FeatureColumns:  []string{"x1", "x2"},
	}, panelRepo, evalRepo, portfolio.NewEvaluator(domain.FrequencyMonthly, zerolog.Nop()), portfolioRepo, zerolog.Nop())

	return svc, evalRepo, portfolioRepo, panelRepo
}

func TestService_RunEvaluationEndToEnd(t *testing.T) {
	svc, evalRepo, portfolioRepo, panelRepo := newTestService(t, "e2e")
	require.NoError(t, panelRepo.SaveRows(servicePanelRows()))

	var progressCalls int
	result, err := svc.RunEvaluation(context.Background(), func(current, total int, label string) {
		progressCalls++
	})
	require.NoError(t, err)

	// 4 out-of-sample months (May through August), 12 entities each
	assert.Len(t, result.Predictions.Rows, 48)
	assert.Equal(t, []string{"OLS"}, result.Predictions.Models)
	assert.Equal(t, 4, progressCalls)
	assert.Empty(t, result.Failed)

	// The run, its metrics and the portfolio series are all persisted
	runID, err := evalRepo.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, result.RunID, runID)

	metrics, err := evalRepo.LoadMetrics(runID)
	require.NoError(t, err)
	require.Contains(t, metrics, "OLS")

	series, err := portfolioRepo.LoadSeries(runID, "OLS")
	require.NoError(t, err)
	assert.Len(t, series, 4)
}

func TestService_EmptyPanel(t *testing.T) {
	svc, _, _, _ := newTestService(t, "empty")

	_, err := svc.RunEvaluation(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel is empty")
}

func TestService_RejectsConcurrentRun(t *testing.T) {
	svc, _, _, panelRepo := newTestService(t, "concurrent")
	require.NoError(t, panelRepo.SaveRows(servicePanelRows()))

	// The progress callback fires while the run holds the running flag, so a
	// reentrant call observes the guard.
	var reentrantErr error
	var checked bool
	_, err := svc.RunEvaluation(context.Background(), func(current, total int, label string) {
		if checked {
			return
		}
		checked = true
		_, reentrantErr = svc.RunEvaluation(context.Background(), nil)
	})
	require.NoError(t, err)
	require.Error(t, reentrantErr)
	assert.Contains(t, reentrantErr.Error(), "already in progress")
	assert.False(t, svc.Running())
}

func TestService_UnknownModel(t *testing.T) {
	svc, _, _, panelRepo := newTestService(t, "unknown")
	require.NoError(t, panelRepo.SaveRows(servicePanelRows()))
	svc.cfg.Models = []string{"Oracle"}

	_, err := svc.RunEvaluation(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}
