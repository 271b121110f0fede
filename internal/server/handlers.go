package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/evaluation"
	"github.com/aristath/eris/internal/modules/indicators"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/portfolio"
	"github.com/aristath/eris/internal/modules/regime"
	"github.com/aristath/eris/internal/modules/stress"
	"github.com/aristath/eris/internal/modules/validation"
	"github.com/aristath/eris/internal/scheduler"
)

// APIHandlers exposes the evaluation, regime and portfolio tables over
// HTTP. Handlers read through the repositories; the only mutating
// endpoints are the two ingest routes, the refresh trigger and the
// asynchronous evaluation trigger.
type APIHandlers struct {
	log              zerolog.Logger
	frequency        domain.Frequency
	minRegimeSamples int

	evalService    *evaluation.Service
	evalRepo       *evaluation.Repository
	panelRepo      *panel.Repository
	indicatorRepo  *indicators.Repository
	regimeRepo     *regime.Repository
	stressRepo     *stress.Repository
	portfolioRepo  *portfolio.Repository
	portfolioEval  *portfolio.Evaluator
	refreshService *regime.RefreshService
	history        *scheduler.JobHistoryRepository
	hub            *ProgressHub
}

// NewAPIHandlers creates the API handler set
func NewAPIHandlers(
	frequency domain.Frequency,
	minRegimeSamples int,
	evalService *evaluation.Service,
	evalRepo *evaluation.Repository,
	panelRepo *panel.Repository,
	indicatorRepo *indicators.Repository,
	regimeRepo *regime.Repository,
	stressRepo *stress.Repository,
	portfolioRepo *portfolio.Repository,
	portfolioEval *portfolio.Evaluator,
	refreshService *regime.RefreshService,
	history *scheduler.JobHistoryRepository,
	hub *ProgressHub,
	log zerolog.Logger,
) *APIHandlers {
	return &APIHandlers{
		log:              log.With().Str("component", "api").Logger(),
		frequency:        frequency,
		minRegimeSamples: minRegimeSamples,
		evalService:      evalService,
		evalRepo:         evalRepo,
		panelRepo:        panelRepo,
		indicatorRepo:    indicatorRepo,
		regimeRepo:       regimeRepo,
		stressRepo:       stressRepo,
		portfolioRepo:    portfolioRepo,
		portfolioEval:    portfolioEval,
		refreshService:   refreshService,
		history:          history,
		hub:              hub,
	}
}

// resolveRunID returns the run_id query parameter, falling back to the most
// recent stored run. An empty result means no run exists yet.
func (h *APIHandlers) resolveRunID(r *http.Request) (string, error) {
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		return runID, nil
	}
	return h.evalRepo.LatestRunID()
}

// HandleMetrics returns the per-model out-of-sample metrics of a run.
func (h *APIHandlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runID == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no evaluation run stored yet"))
		return
	}
	metrics, err := h.evalRepo.LoadMetrics(runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"run_id":  runID,
		"metrics": metrics,
	})
}

type predictionResponse struct {
	Period   string             `json:"period"`
	EntityID string             `json:"entity_id"`
	Actual   float64            `json:"actual"`
	Weight   float64            `json:"weight,omitempty"`
	Preds    map[string]float64 `json:"predictions"`
}

// HandlePredictions returns the full prediction table of a run.
func (h *APIHandlers) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runID == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no evaluation run stored yet"))
		return
	}
	table, err := h.evalRepo.LoadPredictions(runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	rows := make([]predictionResponse, len(table.Rows))
	for i, row := range table.Rows {
		rows[i] = predictionResponse{
			Period:   row.Period.Label(h.frequency),
			EntityID: row.EntityID,
			Actual:   row.Actual,
			Weight:   row.Weight,
			Preds:    row.Preds,
		}
	}
	h.writeJSON(w, map[string]interface{}{
		"run_id": runID,
		"models": table.Models,
		"rows":   rows,
	})
}

type regimeResponse struct {
	Period      string  `json:"period"`
	State       int     `json:"state"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Confidence  string  `json:"confidence"`
}

// HandleRegimes returns the full regime series plus the current record.
func (h *APIHandlers) HandleRegimes(w http.ResponseWriter, r *http.Request) {
	records, err := h.regimeRepo.LoadAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]regimeResponse, len(records))
	for i, rec := range records {
		out[i] = regimeRecordResponse(rec, h.frequency)
	}
	response := map[string]interface{}{"regimes": out}
	if len(records) > 0 {
		current := regimeRecordResponse(records[len(records)-1], h.frequency)
		response["current"] = current
	}
	h.writeJSON(w, response)
}

func regimeRecordResponse(rec domain.RegimeRecord, f domain.Frequency) regimeResponse {
	return regimeResponse{
		Period:      rec.Period.Label(f),
		State:       rec.State,
		Label:       string(rec.Label),
		Probability: rec.Probability,
		Confidence:  string(rec.Confidence),
	}
}

type stressResponse struct {
	Period string  `json:"period"`
	Score  float64 `json:"score"`
}

// HandleStress returns the stress composite series.
func (h *APIHandlers) HandleStress(w http.ResponseWriter, r *http.Request) {
	records, err := h.stressRepo.LoadAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]stressResponse, len(records))
	for i, rec := range records {
		out[i] = stressResponse{Period: rec.Period.Label(h.frequency), Score: rec.Score}
	}
	h.writeJSON(w, map[string]interface{}{"stress": out})
}

type portfolioPointResponse struct {
	Period         string  `json:"period"`
	StrategyReturn float64 `json:"strategy_return"`
	LongReturn     float64 `json:"long_return"`
	ShortReturn    float64 `json:"short_return"`
	MarketReturn   float64 `json:"market_return"`
	CumStrategy    float64 `json:"cum_strategy"`
	CumMarket      float64 `json:"cum_market"`
}

// HandlePortfolio returns one model's strategy series and summary
// statistics. Without a model parameter it lists the models that have a
// stored series for the run.
func (h *APIHandlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runID == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no evaluation run stored yet"))
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		models, err := h.portfolioRepo.Models(runID)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.writeJSON(w, map[string]interface{}{"run_id": runID, "models": models})
		return
	}

	records, err := h.portfolioRepo.LoadSeries(runID, model)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(records) == 0 {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no portfolio series for model %q in run %s", model, runID))
		return
	}

	series := make([]portfolioPointResponse, len(records))
	for i, rec := range records {
		series[i] = portfolioPointResponse{
			Period:         rec.Period.Label(h.frequency),
			StrategyReturn: rec.StrategyReturn,
			LongReturn:     rec.LongReturn,
			ShortReturn:    rec.ShortReturn,
			MarketReturn:   rec.MarketReturn,
			CumStrategy:    rec.CumStrategy,
			CumMarket:      rec.CumMarket,
		}
	}
	h.writeJSON(w, map[string]interface{}{
		"run_id":  runID,
		"model":   model,
		"series":  series,
		"summary": h.portfolioEval.Summarize(records),
	})
}

// HandleRegimeMetrics recomputes the out-of-sample R² of every model within
// each regime label. The join runs on demand; neither table is duplicated
// into a third one.
func (h *APIHandlers) HandleRegimeMetrics(w http.ResponseWriter, r *http.Request) {
	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runID == "" {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no evaluation run stored yet"))
		return
	}
	table, err := h.evalRepo.LoadPredictions(runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	regimes, err := h.regimeRepo.LoadAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	minSamples := h.minRegimeSamples
	if raw := r.URL.Query().Get("min_samples"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_samples %q", raw))
			return
		}
		minSamples = parsed
	}
	h.writeJSON(w, map[string]interface{}{
		"run_id":      runID,
		"min_samples": minSamples,
		"r2":          validation.RegimeConditionalR2(table, regimes, minSamples),
	})
}

// HandleJobs returns the recent scheduled-job history.
func (h *APIHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.history.Recent(50)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"jobs": runs})
}

// HandleEvaluate starts an evaluation run in the background and returns
// immediately. Progress is published on the websocket stream. A second
// trigger while a run is live is rejected.
func (h *APIHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.evalService.Running() {
		h.writeError(w, http.StatusConflict, fmt.Errorf("an evaluation run is already in progress"))
		return
	}

	go func() {
		result, err := h.evalService.RunEvaluation(context.Background(), func(current, total int, label string) {
			h.hub.Broadcast(ProgressEvent{
				Type:    eventProgress,
				Current: current,
				Total:   total,
				Period:  label,
			})
		})
		if err != nil {
			h.log.Error().Err(err).Msg("Evaluation run failed")
			h.hub.Broadcast(ProgressEvent{Type: eventFailed, Error: err.Error()})
			return
		}
		h.hub.Broadcast(ProgressEvent{Type: eventFinished, RunID: result.RunID})
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "started"}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HandleRefresh recomputes the regime and stress tables from the stored
// indicator frame.
func (h *APIHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	regimes, stresses, err := h.refreshService.Refresh()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := map[string]interface{}{
		"regime_records": len(regimes),
		"stress_records": len(stresses),
	}
	if len(regimes) > 0 {
		response["current"] = regimeRecordResponse(regimes[len(regimes)-1], h.frequency)
	}
	h.writeJSON(w, response)
}

type panelIngestRequest struct {
	Rows []struct {
		Period   string    `json:"period"`
		EntityID string    `json:"entity_id"`
		Target   float64   `json:"target"`
		Weight   float64   `json:"weight"`
		Features []float64 `json:"features"`
	} `json:"rows"`
}

// HandlePanelIngest upserts panel rows. Periods are labels in the
// configured frequency's format ("2006-01" monthly, "2006-01-02" daily).
func (h *APIHandlers) HandlePanelIngest(w http.ResponseWriter, r *http.Request) {
	var req panelIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Rows) == 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("no rows in request"))
		return
	}

	rows := make([]domain.PanelRow, len(req.Rows))
	for i, raw := range req.Rows {
		period, err := domain.ParsePeriod(raw.Period, h.frequency)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		if raw.EntityID == "" {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("row %d has no entity_id", i))
			return
		}
		rows[i] = domain.PanelRow{
			Period:   period,
			EntityID: raw.EntityID,
			Target:   raw.Target,
			Weight:   raw.Weight,
			Features: raw.Features,
		}
	}

	if err := h.panelRepo.SaveRows(rows); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	count, err := h.panelRepo.Count()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"ingested": len(rows), "total_rows": count})
}

type indicatorIngestRequest struct {
	Periods []string             `json:"periods"`
	Columns map[string][]float64 `json:"columns"`
	// Derive asks for rolling mean/volatility/drift columns computed from
	// one of the raw columns over the given window.
	Derive *struct {
		Column string `json:"column"`
		Window int    `json:"window"`
	} `json:"derive,omitempty"`
}

// HandleIndicatorIngest replaces or extends the indicator frame. Every
// column must cover every period in the request. An optional derive block
// adds rolling feature columns from one raw series.
func (h *APIHandlers) HandleIndicatorIngest(w http.ResponseWriter, r *http.Request) {
	var req indicatorIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Periods) == 0 || len(req.Columns) == 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("periods and columns are both required"))
		return
	}

	periods := make([]domain.Period, len(req.Periods))
	for i, label := range req.Periods {
		period, err := domain.ParsePeriod(label, h.frequency)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		periods[i] = period
	}

	var frame *indicators.Frame
	var err error
	if req.Derive != nil {
		raw, ok := req.Columns[req.Derive.Column]
		if !ok {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("derive column %q is not in the request", req.Derive.Column))
			return
		}
		frame, err = indicators.BuildSentimentFeatures(periods, raw, req.Derive.Column, req.Derive.Window)
	} else {
		frame, err = indicators.NewFrame(periods)
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	for name, values := range req.Columns {
		if req.Derive != nil && name == req.Derive.Column {
			continue
		}
		if err := frame.SetColumn(name, values); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := h.indicatorRepo.SaveFrame(frame); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"periods": len(periods),
		"columns": len(frame.ColumnNames()),
	})
}

// HandleLatestRegime returns just the most recent regime record, or 404
// when the table is empty.
func (h *APIHandlers) HandleLatestRegime(w http.ResponseWriter, r *http.Request) {
	rec, err := h.regimeRepo.Latest()
	if err == sql.ErrNoRows {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no regime records stored yet"))
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, regimeRecordResponse(rec, h.frequency))
}

func (h *APIHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *APIHandlers) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		h.log.Error().Err(encErr).Msg("Failed to encode error response")
	}
}
