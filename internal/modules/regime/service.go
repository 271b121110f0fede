package regime

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/indicators"
	"github.com/aristath/eris/internal/modules/stress"
)

// RefreshService fits regimes and computes the stress composite off the same
// indicator frame and persists both tables in one pass, so the two series
// always describe the same window.
type RefreshService struct {
	labeler       *Labeler
	composite     *stress.Composite
	indicatorRepo *indicators.Repository
	regimeRepo    *Repository
	stressRepo    *stress.Repository
	log           zerolog.Logger
}

// NewRefreshService creates a regime/stress refresh service
func NewRefreshService(
	labeler *Labeler,
	composite *stress.Composite,
	indicatorRepo *indicators.Repository,
	regimeRepo *Repository,
	stressRepo *stress.Repository,
	log zerolog.Logger,
) *RefreshService {
	return &RefreshService{
		labeler:       labeler,
		composite:     composite,
		indicatorRepo: indicatorRepo,
		regimeRepo:    regimeRepo,
		stressRepo:    stressRepo,
		log:           log.With().Str("component", "regime_refresh").Logger(),
	}
}

// Refresh loads the indicator table, recomputes both series and stores
// them. The stress composite is computed even when the regime fit degrades
// to a placeholder; the two outputs are deliberately independent.
func (s *RefreshService) Refresh() ([]domain.RegimeRecord, []domain.StressRecord, error) {
	frame, err := s.indicatorRepo.LoadFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load indicator frame: %w", err)
	}
	if frame.Len() == 0 {
		return nil, nil, fmt.Errorf("indicator table is empty")
	}

	regimes, err := s.labeler.Label(frame)
	if err != nil {
		return nil, nil, err
	}
	if err := s.regimeRepo.SaveRecords(regimes); err != nil {
		return nil, nil, fmt.Errorf("failed to save regime records: %w", err)
	}

	stresses, err := s.composite.Compute(frame)
	if err != nil {
		return nil, nil, err
	}
	if err := s.stressRepo.SaveRecords(stresses); err != nil {
		return nil, nil, fmt.Errorf("failed to save stress scores: %w", err)
	}

	s.log.Info().
		Int("periods", frame.Len()).
		Int("regime_records", len(regimes)).
		Int("stress_records", len(stresses)).
		Msg("Regime and stress tables refreshed")
	return regimes, stresses, nil
}
