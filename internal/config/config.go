// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aristath/eris/internal/domain"
)

// Config holds application configuration. It is constructed once by the
// caller (cmd/server or a test) and passed into each component's
// constructor - there is no ambient global state.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Evaluation protocol
	FirstEvaluation domain.Period    // first out-of-sample period
	RetrainEvery    int              // re-fit cadence in evaluation periods (>= 1)
	Frequency       domain.Frequency // drives annualization factors

	// Regime detection
	RegimeStates     int    // number of HMM states (>= 2)
	RegimeIterations int    // EM iterations
	MinRegimeHistory int    // below this many periods the labeler emits a placeholder
	ReferenceColumn  string // indicator column that orders states into labels

	// Model slots
	Models       []string // registry names to evaluate; empty means all
	MacroColumns int      // leading macro feature columns (the neural slot needs >= 1)
	Seed         int64    // seeds the stochastic slots and the regime fit

	// Regime-conditional scoring
	MinRegimeSamples int // minimum joined rows per (model, regime) report

	// Stress composite: indicator column -> signed weight
	StressWeights map[string]float64

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup configuration.
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string // S3-compatible endpoint URL (empty for AWS)
	Region    string
	AccessKey string
	SecretKey string
	Schedule  string // cron expression
}

// DefaultStressWeights mirror the macro stress index: an inverted term
// spread raises stress, wide default spreads and high stock variance raise
// stress.
func DefaultStressWeights() map[string]float64 {
	return map[string]float64{
		"term_spread":    -1.0,
		"default_spread": 1.0,
		"stock_variance": 1.0,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ERIS_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := strconv.Atoi(getEnv("ERIS_PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_PORT: %w", err)
	}

	firstEval, err := domain.ParseMonth(getEnv("ERIS_FIRST_EVALUATION", "2010-01"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_FIRST_EVALUATION: %w", err)
	}

	retrainEvery, err := strconv.Atoi(getEnv("ERIS_RETRAIN_EVERY", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_RETRAIN_EVERY: %w", err)
	}

	regimeStates, err := strconv.Atoi(getEnv("ERIS_REGIME_STATES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_REGIME_STATES: %w", err)
	}

	minSamples, err := strconv.Atoi(getEnv("ERIS_MIN_REGIME_SAMPLES", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_MIN_REGIME_SAMPLES: %w", err)
	}

	macroColumns, err := strconv.Atoi(getEnv("ERIS_MACRO_COLUMNS", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_MACRO_COLUMNS: %w", err)
	}

	seed, err := strconv.ParseInt(getEnv("ERIS_SEED", "42"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ERIS_SEED: %w", err)
	}

	var modelNames []string
	if raw := os.Getenv("ERIS_MODELS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				modelNames = append(modelNames, name)
			}
		}
	}

	weights := DefaultStressWeights()
	if raw := os.Getenv("ERIS_STRESS_WEIGHTS"); raw != "" {
		weights, err = ParseStressWeights(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ERIS_STRESS_WEIGHTS: %w", err)
		}
	}

	frequency := domain.FrequencyMonthly
	if getEnv("ERIS_FREQUENCY", "monthly") == "daily" {
		frequency = domain.FrequencyDaily
	}

	cfg := &Config{
		DataDir:          absDataDir,
		LogLevel:         getEnv("ERIS_LOG_LEVEL", "info"),
		Port:             port,
		DevMode:          getEnv("ERIS_DEV_MODE", "false") == "true",
		FirstEvaluation:  firstEval,
		RetrainEvery:     retrainEvery,
		Frequency:        frequency,
		RegimeStates:     regimeStates,
		RegimeIterations: 100,
		MinRegimeHistory: 7,
		ReferenceColumn:  getEnv("ERIS_REFERENCE_COLUMN", "term_spread"),
		Models:           modelNames,
		MacroColumns:     macroColumns,
		Seed:             seed,
		MinRegimeSamples: minSamples,
		StressWeights:    weights,
		Backup:           loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants. It is called by Load and by
// tests that construct a Config directly. Validation happens before any
// fitting begins so bad configuration fails fast.
func (c *Config) Validate() error {
	if c.RetrainEvery < 1 {
		return fmt.Errorf("retrain cadence must be >= 1, got %d", c.RetrainEvery)
	}
	if c.RegimeStates < 2 {
		return fmt.Errorf("regime state count must be >= 2, got %d", c.RegimeStates)
	}
	if c.MinRegimeSamples < 1 {
		return fmt.Errorf("minimum regime samples must be >= 1, got %d", c.MinRegimeSamples)
	}
	if c.MacroColumns < 0 {
		return fmt.Errorf("macro column count must be >= 0, got %d", c.MacroColumns)
	}
	if len(c.StressWeights) == 0 {
		return fmt.Errorf("stress weight mapping must not be empty")
	}
	return nil
}

// ParseStressWeights parses a "column:weight,column:weight" mapping.
// Negative weights mean "higher value reduces stress" (e.g. a term spread).
func ParseStressWeights(raw string) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed weight entry %q", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed weight value in %q: %w", pair, err)
		}
		weights[strings.TrimSpace(parts[0])] = w
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("no weight entries in %q", raw)
	}
	return weights, nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnv("ERIS_BACKUP_ENABLED", "false") == "true",
		Bucket:    os.Getenv("ERIS_BACKUP_BUCKET"),
		Endpoint:  os.Getenv("ERIS_BACKUP_ENDPOINT"),
		Region:    getEnv("ERIS_BACKUP_REGION", "auto"),
		AccessKey: os.Getenv("ERIS_BACKUP_ACCESS_KEY"),
		SecretKey: os.Getenv("ERIS_BACKUP_SECRET_KEY"),
		Schedule:  getEnv("ERIS_BACKUP_SCHEDULE", "0 3 * * *"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
