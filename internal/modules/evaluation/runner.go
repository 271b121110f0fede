// Package evaluation drives model slots through the expanding-window
// protocol: fit on everything before the test period, predict the test
// period, roll forward. Slots are independent, so fit/predict within one
// window runs concurrently across slots; the per-period loop itself is
// inherently sequential.
package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/models"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/validation"
)

// ProgressFunc is invoked after each test period with the 1-based window
// index, the total window count and the period label. It must not alter
// results and may be called from the evaluator goroutine.
type ProgressFunc func(current, total int, periodLabel string)

// Result is the full output of one evaluation run.
type Result struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Predictions *domain.PredictionTable
	Metrics     map[string]domain.ModelMetrics
	// Failed maps a model name to the error that removed it from the run.
	Failed map[string]error
}

// Runner executes the expanding-window evaluation.
type Runner struct {
	splitter     *validation.Splitter
	retrainEvery int
	frequency    domain.Frequency
	log          zerolog.Logger
}

// NewRunner creates an evaluation runner. retrainEvery must be >= 1
// (validated by config before anything reaches the runner).
func NewRunner(splitter *validation.Splitter, retrainEvery int, frequency domain.Frequency, log zerolog.Logger) *Runner {
	return &Runner{
		splitter:     splitter,
		retrainEvery: retrainEvery,
		frequency:    frequency,
		log:          log.With().Str("component", "evaluation_runner").Logger(),
	}
}

// slotState tracks one slot across windows. A slot that fails fit or
// predict is marked dead and excluded from all further windows and from the
// final metrics; the other slots continue.
type slotState struct {
	slot      models.Slot
	hasFit    bool
	dead      bool
	err       error
	actual    []float64
	predicted []float64
}

// Run drives every slot over the panel's expanding windows. The context is
// checked once per window boundary; cancellation stops the run between
// windows, never mid-fit.
func (r *Runner) Run(ctx context.Context, pnl *panel.Panel, slots []models.Slot, progress ProgressFunc) (*Result, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("no model slots to evaluate")
	}

	windows, err := r.splitter.Split(pnl)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Predictions: &domain.PredictionTable{
			HasWeights: pnl.HasWeights,
		},
		Metrics: make(map[string]domain.ModelMetrics),
		Failed:  make(map[string]error),
	}
	result.Predictions.RunID = result.RunID

	states := make([]*slotState, len(slots))
	for i, slot := range slots {
		states[i] = &slotState{slot: slot}
	}

	r.log.Info().
		Str("run_id", result.RunID).
		Int("windows", len(windows)).
		Int("slots", len(slots)).
		Int("retrain_every", r.retrainEvery).
		Msg("Starting expanding-window evaluation")

	for idx, window := range windows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation cancelled at window %d: %w", idx, err)
		}

		r.evaluateWindow(idx, window, states, result)

		if progress != nil {
			progress(idx+1, len(windows), window.Period.Label(r.frequency))
		}
	}

	// Metrics over the full concatenated out-of-sample set, per surviving slot
	for _, state := range states {
		if state.dead {
			result.Failed[state.slot.Name()] = state.err
			// Drop the predictions made before the slot died so a
			// partially covered model never reaches persistence or the API.
			for i := range result.Predictions.Rows {
				delete(result.Predictions.Rows[i].Preds, state.slot.Name())
			}
			continue
		}
		result.Predictions.Models = append(result.Predictions.Models, state.slot.Name())
		result.Metrics[state.slot.Name()] = domain.ModelMetrics{
			OOSR2: validation.OOSR2(state.actual, state.predicted),
			RMSE:  validation.RMSE(state.actual, state.predicted),
			MAE:   validation.MAE(state.actual, state.predicted),
		}
	}

	result.FinishedAt = time.Now().UTC()
	r.log.Info().
		Str("run_id", result.RunID).
		Int("rows", len(result.Predictions.Rows)).
		Int("failed_slots", len(result.Failed)).
		Msg("Evaluation finished")
	return result, nil
}

// evaluateWindow fits (on cadence) and predicts every live slot for one
// window, concurrently across slots, then appends one prediction row per
// test observation.
func (r *Runner) evaluateWindow(idx int, window validation.Window, states []*slotState, result *Result) {
	XTrain := panel.Features(window.Train)
	yTrain := panel.Targets(window.Train)
	XTest := panel.Features(window.Test)

	retrain := idx%r.retrainEvery == 0

	// One prediction vector per slot, filled concurrently. Slots share no
	// state and the feature matrices are read-only, so the only
	// synchronization needed is the WaitGroup semantics of the group.
	preds := make([][]float64, len(states))
	var mu sync.Mutex
	g := new(errgroup.Group)

	for i, state := range states {
		if state.dead {
			continue
		}
		i, state := i, state
		g.Go(func() error {
			if retrain || !state.hasFit {
				if err := state.slot.Fit(XTrain, yTrain); err != nil {
					mu.Lock()
					state.dead = true
					state.err = fmt.Errorf("fit failed at window %d: %w", idx, err)
					mu.Unlock()
					r.log.Error().Err(err).Str("model", state.slot.Name()).Int("window", idx).
						Msg("Model fit failed, excluding slot from run")
					return nil
				}
				state.hasFit = true
			}

			out, err := state.slot.Predict(XTest)
			if err != nil || len(out) != len(XTest) {
				if err == nil {
					err = fmt.Errorf("predicted %d values for %d rows", len(out), len(XTest))
				}
				mu.Lock()
				state.dead = true
				state.err = fmt.Errorf("predict failed at window %d: %w", idx, err)
				mu.Unlock()
				r.log.Error().Err(err).Str("model", state.slot.Name()).Int("window", idx).
					Msg("Model predict failed, excluding slot from run")
				return nil
			}
			preds[i] = out
			return nil
		})
	}
	// Workers record failures on their own state instead of aborting the
	// group: one bad model never takes down the run.
	_ = g.Wait()

	for rowIdx, row := range window.Test {
		predRow := domain.PredictionRow{
			Period:   row.Period,
			EntityID: row.EntityID,
			Actual:   row.Target,
			Weight:   row.Weight,
			Preds:    make(map[string]float64, len(states)),
		}
		for i, state := range states {
			if state.dead || preds[i] == nil {
				continue
			}
			predRow.Preds[state.slot.Name()] = preds[i][rowIdx]
		}
		result.Predictions.Rows = append(result.Predictions.Rows, predRow)
	}

	for i, state := range states {
		if state.dead || preds[i] == nil {
			continue
		}
		for rowIdx, row := range window.Test {
			state.actual = append(state.actual, row.Target)
			state.predicted = append(state.predicted, preds[i][rowIdx])
		}
	}
}
