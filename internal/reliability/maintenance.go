package reliability

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/database"
)

// MaintenanceService runs the periodic housekeeping the WAL-mode databases
// need: checkpoints to keep the log small and the occasional VACUUM to
// reclaim space after large prediction batches are replaced.
type MaintenanceService struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceService creates a maintenance service
func NewMaintenanceService(databases []*database.DB, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		log:       log.With().Str("component", "maintenance_service").Logger(),
	}
}

// CheckpointAll truncates the WAL of every database. Every database is
// attempted even after a failure; the first error is returned so the job
// history records the cycle as failed.
func (s *MaintenanceService) CheckpointAll() error {
	var firstErr error
	for _, db := range s.databases {
		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint failed for %s: %w", db.Name(), err)
			}
			continue
		}
		s.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint completed")
	}
	return firstErr
}

// VacuumAll rebuilds every database file and reports the space reclaimed.
func (s *MaintenanceService) VacuumAll() error {
	for _, db := range s.databases {
		before := s.sizeMB(db)
		if _, err := db.Conn().Exec("VACUUM"); err != nil {
			return fmt.Errorf("vacuum failed for %s: %w", db.Name(), err)
		}
		s.log.Info().
			Str("database", db.Name()).
			Float64("size_before_mb", before).
			Float64("size_after_mb", s.sizeMB(db)).
			Msg("VACUUM completed")
	}
	return nil
}

// IntegrityCheck runs the SQLite integrity check on every database and
// returns the first failure.
func (s *MaintenanceService) IntegrityCheck() error {
	for _, db := range s.databases {
		var result string
		if err := db.Conn().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", db.Name(), err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity check failed for %s: %s", db.Name(), result)
		}
	}
	return nil
}

func (s *MaintenanceService) sizeMB(db *database.DB) float64 {
	var pageCount, pageSize int
	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	return float64(pageCount*pageSize) / 1024 / 1024
}
