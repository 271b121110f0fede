package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/models"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/portfolio"
	"github.com/aristath/eris/internal/modules/validation"
)

// ServiceConfig carries the protocol knobs the evaluation service needs.
type ServiceConfig struct {
	FirstEvaluation domain.Period
	RetrainEvery    int
	Frequency       domain.Frequency
	Models          []string // empty means every registered model
	Seed            int64
	MacroColumns    int
	FeatureColumns  []string // empty means infer width from the stored rows
}

// Service runs the full evaluation pipeline: load the stored panel, fit and
// roll every slot forward, persist predictions and metrics, then derive and
// persist the per-model portfolio series. Only one run executes at a time.
type Service struct {
	cfg           ServiceConfig
	panelRepo     *panel.Repository
	evalRepo      *Repository
	portfolioEval *portfolio.Evaluator
	portfolioRepo *portfolio.Repository
	log           zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewService creates an evaluation service
func NewService(
	cfg ServiceConfig,
	panelRepo *panel.Repository,
	evalRepo *Repository,
	portfolioEval *portfolio.Evaluator,
	portfolioRepo *portfolio.Repository,
	log zerolog.Logger,
) *Service {
	return &Service{
		cfg:           cfg,
		panelRepo:     panelRepo,
		evalRepo:      evalRepo,
		portfolioEval: portfolioEval,
		portfolioRepo: portfolioRepo,
		log:           log.With().Str("component", "evaluation_service").Logger(),
	}
}

// Running reports whether a run is currently executing.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunEvaluation executes one full evaluation. A second call while a run is
// in flight returns an error instead of queueing.
func (s *Service) RunEvaluation(ctx context.Context, progress ProgressFunc) (*Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("an evaluation run is already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	pnl, err := s.panelRepo.LoadAll(s.cfg.FeatureColumns, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load panel: %w", err)
	}
	if pnl.Len() == 0 {
		return nil, fmt.Errorf("panel is empty, ingest rows before evaluating")
	}
	// Weight presence is a property of the stored data, not configuration
	for _, row := range pnl.Rows() {
		if row.Weight != 0 {
			pnl.HasWeights = true
			break
		}
	}
	if len(pnl.FeatureColumns) == 0 {
		pnl.FeatureColumns = syntheticColumns(len(pnl.Rows()[0].Features))
	}
	imputed := pnl.ImputeMissing()

	names := s.cfg.Models
	if len(names) == 0 {
		names = models.Names()
	}
	slots, unavailable, err := models.Build(names, models.BuilderConfig{
		Seed:     s.cfg.Seed,
		MacroDim: s.cfg.MacroColumns,
	})
	if err != nil {
		return nil, err
	}
	for name, reason := range unavailable {
		s.log.Warn().Str("model", name).Err(reason).Msg("Model unavailable for this run")
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no model is available with the current configuration")
	}

	runner := NewRunner(validation.NewSplitter(s.cfg.FirstEvaluation), s.cfg.RetrainEvery, s.cfg.Frequency, s.log)
	result, err := runner.Run(ctx, imputed, slots, progress)
	if err != nil {
		return nil, err
	}

	if err := s.evalRepo.SaveResult(result, s.cfg.RetrainEvery, s.cfg.FirstEvaluation); err != nil {
		return nil, err
	}

	for _, model := range result.Predictions.Models {
		records, err := s.portfolioEval.Evaluate(result.Predictions, model)
		if err != nil {
			// Thin panels legitimately cannot fill deciles; the run's
			// metrics still stand without a portfolio series.
			s.log.Warn().Err(err).Str("model", model).Msg("No portfolio series for model")
			continue
		}
		if err := s.portfolioRepo.SaveSeries(result.RunID, model, records); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// syntheticColumns names features positionally when no column list was
// configured. Imputation and window extraction only need the width.
func syntheticColumns(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i+1)
	}
	return names
}
