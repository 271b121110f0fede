package portfolio

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
)

// Repository persists strategy series in the results database, keyed by
// (run, model, period).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "portfolio_repository").Logger(),
	}
}

// SaveSeries stores one model's record series for a run in one transaction.
func (r *Repository) SaveSeries(runID, model string, records []domain.PortfolioRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO portfolio_series
	                         (run_id, model, period, strategy_return, long_return, short_return,
	                          market_return, cum_strategy, cum_market)
	                         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	                         ON CONFLICT(run_id, model, period) DO UPDATE SET
	                             strategy_return = excluded.strategy_return,
	                             long_return = excluded.long_return,
	                             short_return = excluded.short_return,
	                             market_return = excluded.market_return,
	                             cum_strategy = excluded.cum_strategy,
	                             cum_market = excluded.cum_market`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(runID, model, int64(rec.Period),
			rec.StrategyReturn, rec.LongReturn, rec.ShortReturn,
			rec.MarketReturn, rec.CumStrategy, rec.CumMarket); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Debug().Str("model", model).Int("periods", len(records)).Msg("Portfolio series saved")
	return nil
}

// LoadSeries reads one model's record series for a run, ordered by period.
func (r *Repository) LoadSeries(runID, model string) ([]domain.PortfolioRecord, error) {
	rows, err := r.db.Query(`SELECT period, strategy_return, long_return, short_return,
	                                market_return, cum_strategy, cum_market
	                         FROM portfolio_series
	                         WHERE run_id = ? AND model = ?
	                         ORDER BY period`, runID, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PortfolioRecord
	for rows.Next() {
		var rec domain.PortfolioRecord
		var period int64
		if err := rows.Scan(&period, &rec.StrategyReturn, &rec.LongReturn, &rec.ShortReturn,
			&rec.MarketReturn, &rec.CumStrategy, &rec.CumMarket); err != nil {
			return nil, err
		}
		rec.Period = domain.Period(period)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Models returns the model names with a stored series for a run.
func (r *Repository) Models(runID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT model FROM portfolio_series WHERE run_id = ? ORDER BY model`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	return models, rows.Err()
}
