package regime

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists regime records in the results database. One row per
// period; a re-fit overwrites historical periods in place, which is the
// documented batch-fit behavior.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new regime repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "regime_repository").Logger(),
	}
}

// SaveRecords upserts the full record set in one transaction.
func (r *Repository) SaveRecords(records []domain.RegimeRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO regime_records (period, state, label, probability, confidence, updated_at)
	                         VALUES (?, ?, ?, ?, ?, ?)
	                         ON CONFLICT(period) DO UPDATE SET
	                             state = excluded.state,
	                             label = excluded.label,
	                             probability = excluded.probability,
	                             confidence = excluded.confidence,
	                             updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, rec := range records {
		if _, err := stmt.Exec(int64(rec.Period), rec.State, string(rec.Label),
			rec.Probability, string(rec.Confidence), now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Debug().Int("records", len(records)).Msg("Regime records saved")
	return nil
}

// LoadAll returns every stored record ordered by period.
func (r *Repository) LoadAll() ([]domain.RegimeRecord, error) {
	rows, err := r.db.Query(`SELECT period, state, label, probability, confidence
	                         FROM regime_records ORDER BY period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RegimeRecord
	for rows.Next() {
		var rec domain.RegimeRecord
		var period int64
		var label, conf string
		if err := rows.Scan(&period, &rec.State, &label, &rec.Probability, &conf); err != nil {
			return nil, err
		}
		rec.Period = domain.Period(period)
		rec.Label = domain.RegimeLabel(label)
		rec.Confidence = domain.RegimeConfidence(conf)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LabelsByPeriod returns the period to label mapping the conditional scorer
// joins against.
func (r *Repository) LabelsByPeriod() (map[domain.Period]domain.RegimeLabel, error) {
	records, err := r.LoadAll()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Period]domain.RegimeLabel, len(records))
	for _, rec := range records {
		out[rec.Period] = rec.Label
	}
	return out, nil
}

// Latest returns the most recent record, or sql.ErrNoRows when none exist.
func (r *Repository) Latest() (domain.RegimeRecord, error) {
	var rec domain.RegimeRecord
	var period int64
	var label, conf string
	err := r.db.QueryRow(`SELECT period, state, label, probability, confidence
	                      FROM regime_records ORDER BY period DESC LIMIT 1`).
		Scan(&period, &rec.State, &label, &rec.Probability, &conf)
	if err != nil {
		return rec, err
	}
	rec.Period = domain.Period(period)
	rec.Label = domain.RegimeLabel(label)
	rec.Confidence = domain.RegimeConfidence(conf)
	return rec, nil
}
