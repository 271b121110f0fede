package indicators

import (
	"database/sql"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists indicator columns in the panel database. One row per
// (period, column), upsert semantics so refreshed series overwrite in place.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new indicator repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "indicator_repository").Logger(),
	}
}

// SaveFrame stores every finite value of the frame. NaN cells are skipped,
// they represent missing observations and absence in the table means the
// same thing.
func (r *Repository) SaveFrame(frame *Frame) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO indicator_values (period, column_name, value)
	                         VALUES (?, ?, ?)
	                         ON CONFLICT(period, column_name) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	saved := 0
	for name, column := range frame.Columns {
		for i, value := range column {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			if _, err := stmt.Exec(int64(frame.Periods[i]), name, value); err != nil {
				return err
			}
			saved++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Debug().Int("values", saved).Int("columns", len(frame.Columns)).Msg("Indicator frame saved")
	return nil
}

// LoadFrame reads the full indicator table back as one frame. Cells with no
// stored value come back as NaN.
func (r *Repository) LoadFrame() (*Frame, error) {
	rows, err := r.db.Query(`SELECT period, column_name, value FROM indicator_values ORDER BY period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type cell struct {
		period domain.Period
		name   string
		value  float64
	}
	var cells []cell
	periodSet := make(map[domain.Period]bool)
	nameSet := make(map[string]bool)

	for rows.Next() {
		var c cell
		var period int64
		if err := rows.Scan(&period, &c.name, &c.value); err != nil {
			return nil, err
		}
		c.period = domain.Period(period)
		cells = append(cells, c)
		periodSet[c.period] = true
		nameSet[c.name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	periods := make([]domain.Period, 0, len(periodSet))
	for p := range periodSet {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	frame, err := NewFrame(periods)
	if err != nil {
		return nil, err
	}
	index := make(map[domain.Period]int, len(periods))
	for i, p := range periods {
		index[p] = i
	}
	for name := range nameSet {
		column := make([]float64, len(periods))
		for i := range column {
			column[i] = nan
		}
		frame.Columns[name] = column
	}
	for _, c := range cells {
		frame.Columns[c.name][index[c.period]] = c.value
	}
	return frame, nil
}
