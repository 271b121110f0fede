package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eris/internal/database"
	"github.com/aristath/eris/internal/domain"
)

func monthRange(start domain.Period, n int) []domain.Period {
	periods := make([]domain.Period, n)
	for i := range periods {
		periods[i] = start + domain.Period(i)
	}
	return periods
}

func TestNewFrame_RejectsUnsortedPeriods(t *testing.T) {
	_, err := NewFrame([]domain.Period{3, 2})
	assert.Error(t, err)

	_, err = NewFrame([]domain.Period{2, 2})
	assert.Error(t, err, "duplicate periods must be rejected")
}

func TestFrame_SetColumnLengthMismatch(t *testing.T) {
	frame, err := NewFrame(monthRange(0, 3))
	require.NoError(t, err)

	assert.Error(t, frame.SetColumn("x", []float64{1, 2}))
}

func TestFrame_Matrix(t *testing.T) {
	frame, err := NewFrame(monthRange(0, 2))
	require.NoError(t, err)
	require.NoError(t, frame.SetColumn("a", []float64{1, 2}))
	require.NoError(t, frame.SetColumn("b", []float64{3, 4}))

	m, err := frame.Matrix([]string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 1}, {4, 2}}, m)

	_, err = frame.Matrix([]string{"missing"})
	assert.Error(t, err)
}

func TestBuildSentimentFeatures_DerivesRollingColumns(t *testing.T) {
	periods := make([]domain.Period, 10)
	values := make([]float64, 10)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range periods {
		periods[i] = domain.DayPeriod(day.AddDate(0, 0, i))
		values[i] = float64(i + 1)
	}

	frame, err := BuildSentimentFeatures(periods, values, "sentiment", 3)
	require.NoError(t, err)

	mean, ok := frame.Column("sentiment_mean")
	require.True(t, ok)
	// SMA(3) over 1,2,3 = 2 at index 2; warmup rows are NaN
	assert.True(t, math.IsNaN(mean[0]))
	assert.True(t, math.IsNaN(mean[1]))
	assert.InDelta(t, 2.0, mean[2], 1e-12)
	assert.InDelta(t, 9.0, mean[9], 1e-12)

	vol, ok := frame.Column("sentiment_volatility")
	require.True(t, ok)
	assert.Greater(t, vol[2], 0.0)

	drift, ok := frame.Column("sentiment_drift")
	require.True(t, ok)
	// ROC(2) at index 2: (3-1)/1 * 100
	assert.InDelta(t, 200.0, drift[2], 1e-9)

	raw, ok := frame.Column("sentiment")
	require.True(t, ok)
	assert.Equal(t, values, raw)
}

func TestBuildSentimentFeatures_ShortSeriesKeepsRawOnly(t *testing.T) {
	periods := monthRange(0, 2)
	frame, err := BuildSentimentFeatures(periods, []float64{1, 2}, "s", 5)
	require.NoError(t, err)

	_, ok := frame.Column("s_mean")
	assert.False(t, ok)
	_, ok = frame.Column("s")
	assert.True(t, ok)
}

func TestRepository_RoundTripWithGaps(t *testing.T) {
	db, err := database.New(database.Config{
		Path: "file:indicators_repo_test?mode=memory&cache=shared",
		Name: "panel",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	repo := NewRepository(db.Conn(), zerolog.Nop())

	frame, err := NewFrame(monthRange(100, 3))
	require.NoError(t, err)
	require.NoError(t, frame.SetColumn("term_spread", []float64{1.5, math.NaN(), -0.5}))
	require.NoError(t, frame.SetColumn("stock_variance", []float64{0.1, 0.2, 0.3}))

	require.NoError(t, repo.SaveFrame(frame))

	loaded, err := repo.LoadFrame()
	require.NoError(t, err)
	assert.Equal(t, monthRange(100, 3), loaded.Periods)

	spread, ok := loaded.Column("term_spread")
	require.True(t, ok)
	assert.Equal(t, 1.5, spread[0])
	assert.True(t, math.IsNaN(spread[1]), "missing cell must come back as NaN")
	assert.Equal(t, -0.5, spread[2])

	variance, ok := loaded.Column("stock_variance")
	require.True(t, ok)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, variance)
}

func TestRepository_SaveIsUpsert(t *testing.T) {
	db, err := database.New(database.Config{
		Path: "file:indicators_upsert_test?mode=memory&cache=shared",
		Name: "panel",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	repo := NewRepository(db.Conn(), zerolog.Nop())

	frame, err := NewFrame(monthRange(0, 1))
	require.NoError(t, err)
	require.NoError(t, frame.SetColumn("x", []float64{1}))
	require.NoError(t, repo.SaveFrame(frame))

	require.NoError(t, frame.SetColumn("x", []float64{2}))
	require.NoError(t, repo.SaveFrame(frame))

	loaded, err := repo.LoadFrame()
	require.NoError(t, err)
	x, _ := loaded.Column("x")
	assert.Equal(t, []float64{2}, x)
}
