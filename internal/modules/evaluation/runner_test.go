package evaluation

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/database"
	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/models"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/validation"
)

// fakeSlot counts fit/predict calls and can be told to fail.
type fakeSlot struct {
	name        string
	fitCalls    int
	failFitAt   int // fail when fitCalls reaches this value (0 = never)
	failPredict bool
	constant    float64
}

func (f *fakeSlot) Name() string { return f.name }

func (f *fakeSlot) Fit(X [][]float64, y []float64) error {
	f.fitCalls++
	if f.failFitAt > 0 && f.fitCalls >= f.failFitAt {
		return fmt.Errorf("deliberate fit failure")
	}
	return nil
}

func (f *fakeSlot) Predict(X [][]float64) ([]float64, error) {
	if f.failPredict {
		return nil, fmt.Errorf("deliberate predict failure")
	}
	out := make([]float64, len(X))
	for i := range out {
		out[i] = f.constant
	}
	return out, nil
}

// runnerPanel builds 2 entities over 6 months.
func runnerPanel() *panel.Panel {
	p := panel.New([]string{"f1"}, true)
	for month := 1; month <= 6; month++ {
		for entity := 1; entity <= 2; entity++ {
			p.Append(domain.PanelRow{
				Period:   domain.Period(month),
				EntityID: fmt.Sprintf("E%d", entity),
				Target:   float64(month) * 0.01,
				Weight:   float64(entity * 100),
				Features: []float64{float64(month)},
			})
		}
	}
	return p
}

func newRunner(retrainEvery int) *Runner {
	return NewRunner(validation.NewSplitter(2), retrainEvery, domain.FrequencyMonthly, zerolog.Nop())
}

func TestRun_ProducesPredictionsAndMetrics(t *testing.T) {
	slot := &fakeSlot{name: "Flat", constant: 0.02}

	result, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{slot}, nil)
	require.NoError(t, err)

	// 5 evaluation months x 2 entities
	assert.Len(t, result.Predictions.Rows, 10)
	assert.Equal(t, []string{"Flat"}, result.Predictions.Models)
	assert.NotEmpty(t, result.RunID)
	require.Contains(t, result.Metrics, "Flat")
	assert.Greater(t, result.Metrics["Flat"].RMSE, 0.0)
}

func TestRun_RetrainCadence(t *testing.T) {
	every := &fakeSlot{name: "Every"}
	quarterly := &fakeSlot{name: "Quarterly"}

	_, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{every}, nil)
	require.NoError(t, err)
	_, err = newRunner(3).Run(context.Background(), runnerPanel(), []models.Slot{quarterly}, nil)
	require.NoError(t, err)

	// 5 windows: cadence 1 fits every window, cadence 3 fits windows 0 and 3
	assert.Equal(t, 5, every.fitCalls)
	assert.Equal(t, 2, quarterly.fitCalls)
}

func TestRun_FailedSlotIsIsolated(t *testing.T) {
	good := &fakeSlot{name: "Good", constant: 0.01}
	bad := &fakeSlot{name: "Bad", failFitAt: 1}

	result, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{good, bad}, nil)
	require.NoError(t, err, "one failing slot must not abort the run")

	assert.Contains(t, result.Metrics, "Good")
	assert.NotContains(t, result.Metrics, "Bad")
	assert.Contains(t, result.Failed, "Bad")

	// The failed model never fabricates predictions
	for _, row := range result.Predictions.Rows {
		assert.NotContains(t, row.Preds, "Bad")
	}
}

func TestRun_LateFailureScrubsEarlierPredictions(t *testing.T) {
	good := &fakeSlot{name: "Good", constant: 0.01}
	// Succeeds for windows 0 and 1, dies on the third fit.
	bad := &fakeSlot{name: "Bad", constant: 0.02, failFitAt: 3}

	result, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{good, bad}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Failed, "Bad")
	assert.Equal(t, []string{"Good"}, result.Predictions.Models)

	// Predictions from the windows before the failure must be gone too,
	// otherwise they come back from the database on reload.
	for _, row := range result.Predictions.Rows {
		assert.NotContains(t, row.Preds, "Bad")
	}

	db, err := database.New(database.Config{
		Path: "file:evaluation_scrub_test?mode=memory&cache=shared",
		Name: "results",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	repo := NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.SaveResult(result, 1, 2))

	preds, err := repo.LoadPredictions(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Good"}, preds.Models)
}

func TestRun_PredictFailureIsIsolated(t *testing.T) {
	good := &fakeSlot{name: "Good", constant: 0.01}
	bad := &fakeSlot{name: "Bad", failPredict: true}

	result, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{good, bad}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Failed, "Bad")
	assert.Contains(t, result.Metrics, "Good")
}

func TestRun_ProgressCallback(t *testing.T) {
	slot := &fakeSlot{name: "Flat"}
	var calls []string

	_, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{slot},
		func(current, total int, label string) {
			calls = append(calls, fmt.Sprintf("%d/%d %s", current, total, label))
		})
	require.NoError(t, err)

	require.Len(t, calls, 5)
	assert.Equal(t, "1/5 0000-03", calls[0])
	assert.Equal(t, "5/5 0000-07", calls[4])
}

func TestRun_CancelledBetweenWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slot := &fakeSlot{name: "Flat"}

	called := false
	_, err := newRunner(1).Run(ctx, runnerPanel(), []models.Slot{slot},
		func(current, total int, label string) {
			if !called {
				called = true
				cancel()
			}
		})
	assert.Error(t, err)
}

func TestRun_NoSlotsIsError(t *testing.T) {
	_, err := newRunner(1).Run(context.Background(), runnerPanel(), nil, nil)
	assert.Error(t, err)
}

func TestRepository_SaveAndLoadRoundTrip(t *testing.T) {
	db, err := database.New(database.Config{
		Path: "file:evaluation_repo_test?mode=memory&cache=shared",
		Name: "results",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	repo := NewRepository(db.Conn(), zerolog.Nop())

	slot := &fakeSlot{name: "Flat", constant: 0.02}
	result, err := newRunner(1).Run(context.Background(), runnerPanel(), []models.Slot{slot}, nil)
	require.NoError(t, err)

	require.NoError(t, repo.SaveResult(result, 1, 2))

	runID, err := repo.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, result.RunID, runID)

	metrics, err := repo.LoadMetrics(runID)
	require.NoError(t, err)
	assert.Equal(t, result.Metrics, metrics)

	preds, err := repo.LoadPredictions(runID)
	require.NoError(t, err)
	assert.Len(t, preds.Rows, len(result.Predictions.Rows))
	assert.Equal(t, []string{"Flat"}, preds.Models)
	assert.True(t, preds.HasWeights)
}
