package panel

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists panel rows in the panel database. Feature vectors are
// stored as JSON arrays; the column names live with the caller's panel so a
// row is only meaningful together with its feature column list.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new panel repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "panel_repository").Logger(),
	}
}

// SaveRows inserts or replaces panel rows in one transaction.
func (r *Repository) SaveRows(rows []domain.PanelRow) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO panel_rows (period, entity_id, target, weight, features)
	                         VALUES (?, ?, ?, ?, ?)
	                         ON CONFLICT(period, entity_id) DO UPDATE SET
	                             target = excluded.target,
	                             weight = excluded.weight,
	                             features = excluded.features`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		features, err := json.Marshal(row.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features for %s: %w", row.EntityID, err)
		}
		if _, err := stmt.Exec(int64(row.Period), row.EntityID, row.Target, row.Weight, string(features)); err != nil {
			return fmt.Errorf("failed to insert row for %s: %w", row.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit panel rows: %w", err)
	}

	r.log.Debug().Int("rows", len(rows)).Msg("Panel rows saved")
	return nil
}

// LoadAll reads the full panel ordered by period and entity.
func (r *Repository) LoadAll(featureColumns []string, hasWeights bool) (*Panel, error) {
	rows, err := r.db.Query(`SELECT period, entity_id, target, weight, features
	                         FROM panel_rows ORDER BY period, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query panel rows: %w", err)
	}
	defer rows.Close()

	p := New(featureColumns, hasWeights)
	for rows.Next() {
		var (
			period      int64
			row         domain.PanelRow
			featuresRaw string
		)
		if err := rows.Scan(&period, &row.EntityID, &row.Target, &row.Weight, &featuresRaw); err != nil {
			return nil, fmt.Errorf("failed to scan panel row: %w", err)
		}
		row.Period = domain.Period(period)
		if err := json.Unmarshal([]byte(featuresRaw), &row.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for %s: %w", row.EntityID, err)
		}
		p.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// Count returns the number of stored panel rows.
func (r *Repository) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM panel_rows").Scan(&count)
	return count, err
}
