package database

// schemas maps database names to their full schema. Each schema is the
// single source of truth for that database and must stay idempotent
// (CREATE TABLE IF NOT EXISTS) so Migrate can run on every startup.
var schemas = map[string]string{
	"panel":   panelSchema,
	"results": resultsSchema,
	"cache":   cacheSchema,
}

// panelSchema holds the input panel: one row per (entity, period) with the
// realized target, optional weight and a JSON-encoded feature vector, plus
// the period-indexed indicator table consumed by the regime labeler and the
// stress composite.
const panelSchema = `
CREATE TABLE IF NOT EXISTS panel_rows (
    period     INTEGER NOT NULL,
    entity_id  TEXT    NOT NULL,
    target     REAL    NOT NULL,
    weight     REAL    NOT NULL DEFAULT 0,
    features   TEXT    NOT NULL,
    PRIMARY KEY (period, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_panel_rows_period ON panel_rows(period);

CREATE TABLE IF NOT EXISTS indicator_values (
    period  INTEGER NOT NULL,
    column_name  TEXT NOT NULL,
    value   REAL    NOT NULL,
    PRIMARY KEY (period, column_name)
);
CREATE INDEX IF NOT EXISTS idx_indicator_values_period ON indicator_values(period);
`

// resultsSchema holds everything the core produces: prediction batches keyed
// by run ID, per-model metrics, regime records (one per period, upsert),
// stress scores and the portfolio series.
const resultsSchema = `
CREATE TABLE IF NOT EXISTS evaluation_runs (
    run_id       TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    retrain_every INTEGER NOT NULL,
    first_period INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
    run_id     TEXT    NOT NULL,
    period     INTEGER NOT NULL,
    entity_id  TEXT    NOT NULL,
    actual     REAL    NOT NULL,
    weight     REAL    NOT NULL DEFAULT 0,
    model      TEXT    NOT NULL,
    predicted  REAL    NOT NULL,
    PRIMARY KEY (run_id, period, entity_id, model)
);
CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions(run_id);

CREATE TABLE IF NOT EXISTS model_metrics (
    run_id  TEXT NOT NULL,
    model   TEXT NOT NULL,
    oos_r2  REAL NOT NULL,
    rmse    REAL NOT NULL,
    mae     REAL NOT NULL,
    PRIMARY KEY (run_id, model)
);

CREATE TABLE IF NOT EXISTS regime_records (
    period      INTEGER PRIMARY KEY,
    state       INTEGER NOT NULL,
    label       TEXT    NOT NULL,
    probability REAL    NOT NULL,
    confidence  TEXT    NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stress_scores (
    period  INTEGER PRIMARY KEY,
    score   REAL    NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_series (
    run_id          TEXT    NOT NULL,
    model           TEXT    NOT NULL,
    period          INTEGER NOT NULL,
    strategy_return REAL    NOT NULL,
    long_return     REAL    NOT NULL,
    short_return    REAL    NOT NULL,
    market_return   REAL    NOT NULL,
    cum_strategy    REAL    NOT NULL,
    cum_market      REAL    NOT NULL,
    PRIMARY KEY (run_id, model, period)
);
`

// cacheSchema holds ephemeral operational data (job history).
const cacheSchema = `
CREATE TABLE IF NOT EXISTS job_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_name    TEXT    NOT NULL,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    success     INTEGER NOT NULL DEFAULT 0,
    message     TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_history_name ON job_history(job_name);
`
