package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/domain"
)

func TestParseStressWeights(t *testing.T) {
	weights, err := ParseStressWeights("term_spread:-1, default_spread:1,stock_variance:0.5")
	require.NoError(t, err)

	assert.Equal(t, -1.0, weights["term_spread"])
	assert.Equal(t, 1.0, weights["default_spread"])
	assert.Equal(t, 0.5, weights["stock_variance"])
}

func TestParseStressWeights_Malformed(t *testing.T) {
	_, err := ParseStressWeights("term_spread")
	assert.Error(t, err)

	_, err = ParseStressWeights("term_spread:abc")
	assert.Error(t, err)

	_, err = ParseStressWeights("")
	assert.Error(t, err)
}

func TestValidate_RejectsBadCadence(t *testing.T) {
	cfg := &Config{
		RetrainEvery:     0,
		RegimeStates:     3,
		MinRegimeSamples: 100,
		StressWeights:    DefaultStressWeights(),
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrain cadence")
}

func TestValidate_RejectsBadStateCount(t *testing.T) {
	cfg := &Config{
		RetrainEvery:     1,
		RegimeStates:     1,
		MinRegimeSamples: 100,
		StressWeights:    DefaultStressWeights(),
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state count")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ERIS_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.RetrainEvery)
	assert.Equal(t, 3, cfg.RegimeStates)
	assert.Equal(t, domain.FrequencyMonthly, cfg.Frequency)

	first, _ := domain.ParseMonth("2010-01")
	assert.Equal(t, first, cfg.FirstEvaluation)
	assert.False(t, cfg.Backup.Enabled)
}
