package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aristath/eris/internal/domain"
)

var nan = math.NaN()

// BuildSentimentFeatures derives the three labeler columns from one raw
// daily series: a rolling mean, a rolling volatility and a drift (rate of
// change) over the same window. The raw column is kept alongside the derived
// ones so the stress composite can weight it directly.
//
// The talib warmup region (the first window-1 observations) comes back as
// zeros from the library; those rows are overwritten with NaN so the labeler
// treats them as missing instead of as genuine zero readings.
func BuildSentimentFeatures(periods []domain.Period, values []float64, name string, window int) (*Frame, error) {
	if len(values) != len(periods) {
		return nil, fmt.Errorf("series %s has %d values for %d periods", name, len(values), len(periods))
	}
	if window < 2 {
		return nil, fmt.Errorf("rolling window must be >= 2, got %d", window)
	}

	frame, err := NewFrame(periods)
	if err != nil {
		return nil, err
	}
	if err := frame.SetColumn(name, values); err != nil {
		return nil, err
	}

	if len(values) < window {
		// Too short for any rolling statistic. The raw column alone still
		// serves the stress composite.
		return frame, nil
	}

	mean := talib.Sma(values, window)
	volatility := talib.StdDev(values, window, 1.0)
	drift := talib.Roc(values, window-1)
	warmup(mean, window-1)
	warmup(volatility, window-1)
	warmup(drift, window-1)

	if err := frame.SetColumn(name+"_mean", mean); err != nil {
		return nil, err
	}
	if err := frame.SetColumn(name+"_volatility", volatility); err != nil {
		return nil, err
	}
	if err := frame.SetColumn(name+"_drift", drift); err != nil {
		return nil, err
	}
	return frame, nil
}

func warmup(series []float64, n int) {
	for i := 0; i < n && i < len(series); i++ {
		series[i] = nan
	}
}
