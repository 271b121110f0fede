package stress

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists stress scores in the results database, one row per
// period with upsert semantics.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new stress repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "stress_repository").Logger(),
	}
}

// SaveRecords upserts the full score series in one transaction.
func (r *Repository) SaveRecords(records []domain.StressRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO stress_scores (period, score, updated_at)
	                         VALUES (?, ?, ?)
	                         ON CONFLICT(period) DO UPDATE SET
	                             score = excluded.score,
	                             updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, rec := range records {
		if _, err := stmt.Exec(int64(rec.Period), rec.Score, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Debug().Int("records", len(records)).Msg("Stress scores saved")
	return nil
}

// LoadAll returns every stored score ordered by period.
func (r *Repository) LoadAll() ([]domain.StressRecord, error) {
	rows, err := r.db.Query(`SELECT period, score FROM stress_scores ORDER BY period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.StressRecord
	for rows.Next() {
		var rec domain.StressRecord
		var period int64
		if err := rows.Scan(&period, &rec.Score); err != nil {
			return nil, err
		}
		rec.Period = domain.Period(period)
		records = append(records, rec)
	}
	return records, rows.Err()
}
