package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/database"
	"github.com/aristath/eris/internal/domain"
	"github.com/aristath/eris/internal/modules/evaluation"
	"github.com/aristath/eris/internal/modules/indicators"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/portfolio"
	"github.com/aristath/eris/internal/modules/regime"
	"github.com/aristath/eris/internal/modules/stress"
	"github.com/aristath/eris/internal/scheduler"
)

type testEnv struct {
	server   *Server
	evalRepo *evaluation.Repository
}

func newTestEnv(t *testing.T, tag string) *testEnv {
	t.Helper()

	openDB := func(name, schema string, profile database.DatabaseProfile) *database.DB {
		db, err := database.New(database.Config{
			Path:    fmt.Sprintf("file:srv_%s_%s?mode=memory&cache=shared", tag, name),
			Name:    schema,
			Profile: profile,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, db.Migrate())
		return db
	}

	panelDB := openDB("panel", "panel", database.ProfileResults)
	resultsDB := openDB("results", "results", database.ProfileResults)
	cacheDB := openDB("cache", "cache", database.ProfileCache)

	log := zerolog.Nop()
	panelRepo := panel.NewRepository(panelDB.Conn(), log)
	evalRepo := evaluation.NewRepository(resultsDB.Conn(), log)
	indicatorRepo := indicators.NewRepository(panelDB.Conn(), log)
	regimeRepo := regime.NewRepository(resultsDB.Conn(), log)
	stressRepo := stress.NewRepository(resultsDB.Conn(), log)
	portfolioRepo := portfolio.NewRepository(resultsDB.Conn(), log)
	history := scheduler.NewJobHistoryRepository(cacheDB.Conn(), log)

	portfolioEval := portfolio.NewEvaluator(domain.FrequencyMonthly, log)
	evalService := evaluation.NewService(evaluation.ServiceConfig{
		FirstEvaluation: domain.MonthPeriod(2020, time.May),
		RetrainEvery:    1,
		Frequency:       domain.FrequencyMonthly,
		Models:          []string{"OLS"},
		Seed:            42,
		FeatureColumns:  []string{"x1", "x2"},
	}, panelRepo, evalRepo, portfolioEval, portfolioRepo, log)

	labeler := regime.NewLabeler(3, 50, 7, "term_spread", 42, log)
	composite := stress.NewComposite(map[string]float64{
		"term_spread":    -1.0,
		"default_spread": 1.0,
	}, log)
	refreshService := regime.NewRefreshService(labeler, composite, indicatorRepo, regimeRepo, stressRepo, log)

	hub := NewProgressHub(log)
	api := NewAPIHandlers(domain.FrequencyMonthly, 5,
		evalService, evalRepo, panelRepo, indicatorRepo, regimeRepo, stressRepo,
		portfolioRepo, portfolioEval, refreshService, history, hub, log)
	system := NewSystemHandlers(t.TempDir(), []*database.DB{panelDB, resultsDB, cacheDB}, log)

	srv := New(Config{Log: log, Port: 0, DevMode: true, API: api, System: system, Hub: hub})
	return &testEnv{server: srv, evalRepo: evalRepo}
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "health")
	rec := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestMetrics_NoRunStored(t *testing.T) {
	env := newTestEnv(t, "nometrics")
	rec := env.request(t, http.MethodGet, "/api/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanelIngest(t *testing.T) {
	env := newTestEnv(t, "panel")

	rec := env.request(t, http.MethodPost, "/api/panel", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"period": "2020-01", "entity_id": "e1", "target": 0.02, "features": []float64{1, 2}},
			{"period": "2020-01", "entity_id": "e2", "target": -0.01, "features": []float64{3, 4}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["ingested"])
	assert.Equal(t, float64(2), body["total_rows"])
}

func TestPanelIngest_BadPeriod(t *testing.T) {
	env := newTestEnv(t, "badperiod")

	rec := env.request(t, http.MethodPost, "/api/panel", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"period": "January 2020", "entity_id": "e1", "target": 0.02},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// indicatorPayload covers 12 months with a reference column that trends so
// the regime fit has structure to find.
func indicatorPayload() map[string]interface{} {
	periods := make([]string, 12)
	termSpread := make([]float64, 12)
	defaultSpread := make([]float64, 12)
	for i := 0; i < 12; i++ {
		periods[i] = fmt.Sprintf("2020-%02d", i+1)
		termSpread[i] = float64(i%3) * 2.0
		defaultSpread[i] = 1.0 + float64(i)*0.1
	}
	return map[string]interface{}{
		"periods": periods,
		"columns": map[string][]float64{
			"term_spread":    termSpread,
			"default_spread": defaultSpread,
		},
	}
}

func TestIndicatorIngestAndRefresh(t *testing.T) {
	env := newTestEnv(t, "refresh")

	rec := env.request(t, http.MethodPost, "/api/indicators", indicatorPayload())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(12), body["regime_records"])
	assert.Equal(t, float64(12), body["stress_records"])

	rec = env.request(t, http.MethodGet, "/api/regimes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	regimes := decodeBody(t, rec)["regimes"].([]interface{})
	assert.Len(t, regimes, 12)

	rec = env.request(t, http.MethodGet, "/api/regimes/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2020-12", decodeBody(t, rec)["period"])

	rec = env.request(t, http.MethodGet, "/api/stress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scores := decodeBody(t, rec)["stress"].([]interface{})
	assert.Len(t, scores, 12)
	for _, raw := range scores {
		score := raw.(map[string]interface{})["score"].(float64)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}
}

func TestIndicatorIngest_DerivedColumns(t *testing.T) {
	env := newTestEnv(t, "derive")

	payload := indicatorPayload()
	payload["derive"] = map[string]interface{}{"column": "term_spread", "window": 3}
	rec := env.request(t, http.MethodPost, "/api/indicators", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Raw columns plus term_spread_{mean,volatility,drift}
	body := decodeBody(t, rec)
	assert.Equal(t, float64(5), body["columns"])
}

func TestRefresh_EmptyIndicators(t *testing.T) {
	env := newTestEnv(t, "emptyrefresh")
	rec := env.request(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatestRegime_Empty(t *testing.T) {
	env := newTestEnv(t, "noregime")
	rec := env.request(t, http.MethodGet, "/api/regimes/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs_EmptyHistory(t *testing.T) {
	env := newTestEnv(t, "jobs")
	rec := env.request(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t, "sysstatus")
	rec := env.request(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.GreaterOrEqual(t, body["goroutines"].(float64), 1.0)
}

func TestDatabaseStats(t *testing.T) {
	env := newTestEnv(t, "dbstats")
	rec := env.request(t, http.MethodGet, "/api/system/database/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["databases"].([]interface{})
	assert.Len(t, stats, 3)
}

func TestEvaluateEndToEnd(t *testing.T) {
	env := newTestEnv(t, "evaluate")

	var rows []map[string]interface{}
	for m := 1; m <= 8; m++ {
		for e := 0; e < 12; e++ {
			rows = append(rows, map[string]interface{}{
				"period":    fmt.Sprintf("2020-%02d", m),
				"entity_id": fmt.Sprintf("e%02d", e),
				"target":    0.5*float64(e)/12.0 + 0.01,
				"features":  []float64{float64(e) / 12.0, float64(m) / 8.0},
			})
		}
	}
	rec := env.request(t, http.MethodPost, "/api/panel", map[string]interface{}{"rows": rows})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodPost, "/api/evaluate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The run executes on a background goroutine; the portfolio series is
	// the last thing it persists, so its arrival means the run is complete.
	require.Eventually(t, func() bool {
		rec := env.request(t, http.MethodGet, "/api/portfolio?model=OLS", nil)
		return rec.Code == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	rec = env.request(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decodeBody(t, rec)["metrics"].(map[string]interface{})
	assert.Contains(t, metrics, "OLS")

	rec = env.request(t, http.MethodGet, "/api/portfolio?model=OLS", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "OLS", body["model"])
	assert.Len(t, body["series"].([]interface{}), 4)
}
