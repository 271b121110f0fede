package evaluation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists evaluation runs, prediction rows and per-model
// metrics in the results database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new evaluation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "evaluation_repository").Logger(),
	}
}

// SaveResult stores a finished run: the run row, every prediction record
// and the per-model metrics, in one transaction.
func (r *Repository) SaveResult(result *Result, retrainEvery int, firstPeriod domain.Period) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO evaluation_runs (run_id, started_at, finished_at, retrain_every, first_period)
	                  VALUES (?, ?, ?, ?, ?)
	                  ON CONFLICT(run_id) DO UPDATE SET finished_at = excluded.finished_at`,
		result.RunID, result.StartedAt.Unix(), result.FinishedAt.Unix(), retrainEvery, int64(firstPeriod))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	predStmt, err := tx.Prepare(`INSERT INTO predictions (run_id, period, entity_id, actual, weight, model, predicted)
	                             VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare prediction insert: %w", err)
	}
	defer predStmt.Close()

	for _, row := range result.Predictions.Rows {
		for model, predicted := range row.Preds {
			if _, err := predStmt.Exec(result.RunID, int64(row.Period), row.EntityID,
				row.Actual, row.Weight, model, predicted); err != nil {
				return fmt.Errorf("failed to insert prediction: %w", err)
			}
		}
	}

	for model, metrics := range result.Metrics {
		if _, err := tx.Exec(`INSERT INTO model_metrics (run_id, model, oos_r2, rmse, mae)
		                      VALUES (?, ?, ?, ?, ?)`,
			result.RunID, model, metrics.OOSR2, metrics.RMSE, metrics.MAE); err != nil {
			return fmt.Errorf("failed to insert metrics for %s: %w", model, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation result: %w", err)
	}

	r.log.Info().
		Str("run_id", result.RunID).
		Int("predictions", len(result.Predictions.Rows)).
		Msg("Evaluation result saved")
	return nil
}

// LatestRunID returns the most recently started run, or empty string when
// no run has been stored yet.
func (r *Repository) LatestRunID() (string, error) {
	var runID string
	err := r.db.QueryRow(`SELECT run_id FROM evaluation_runs ORDER BY started_at DESC, run_id DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return runID, nil
}

// LoadMetrics returns the metrics table of one run.
func (r *Repository) LoadMetrics(runID string) (map[string]domain.ModelMetrics, error) {
	rows, err := r.db.Query(`SELECT model, oos_r2, rmse, mae FROM model_metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.ModelMetrics)
	for rows.Next() {
		var model string
		var m domain.ModelMetrics
		if err := rows.Scan(&model, &m.OOSR2, &m.RMSE, &m.MAE); err != nil {
			return nil, err
		}
		out[model] = m
	}
	return out, rows.Err()
}

// LoadPredictions reconstructs the prediction table of one run, ordered by
// period and entity.
func (r *Repository) LoadPredictions(runID string) (*domain.PredictionTable, error) {
	rows, err := r.db.Query(`SELECT period, entity_id, actual, weight, model, predicted
	                         FROM predictions WHERE run_id = ?
	                         ORDER BY period, entity_id, model`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := &domain.PredictionTable{RunID: runID}
	modelSet := make(map[string]bool)
	rowIndex := make(map[string]int)

	for rows.Next() {
		var (
			period    int64
			entityID  string
			actual    float64
			weight    float64
			model     string
			predicted float64
		)
		if err := rows.Scan(&period, &entityID, &actual, &weight, &model, &predicted); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%d|%s", period, entityID)
		idx, ok := rowIndex[key]
		if !ok {
			idx = len(table.Rows)
			rowIndex[key] = idx
			table.Rows = append(table.Rows, domain.PredictionRow{
				Period:   domain.Period(period),
				EntityID: entityID,
				Actual:   actual,
				Weight:   weight,
				Preds:    make(map[string]float64),
			})
			if weight != 0 {
				table.HasWeights = true
			}
		}
		table.Rows[idx].Preds[model] = predicted
		if !modelSet[model] {
			modelSet[model] = true
			table.Models = append(table.Models, model)
		}
	}
	return table, rows.Err()
}

// RecordStarted stamps the run row before predictions exist, so a crashed
// run is visible in the table.
func (r *Repository) RecordStarted(runID string, retrainEvery int, firstPeriod domain.Period) error {
	_, err := r.db.Exec(`INSERT INTO evaluation_runs (run_id, started_at, retrain_every, first_period)
	                     VALUES (?, ?, ?, ?)
	                     ON CONFLICT(run_id) DO NOTHING`,
		runID, time.Now().UTC().Unix(), retrainEvery, int64(firstPeriod))
	return err
}
