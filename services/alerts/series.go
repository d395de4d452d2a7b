package alerts

import (
	"context"

	"quote_alert_backend/models"
)

// DefaultSeriesLength covers the longest default indicator window (MA50 crossover)
const DefaultSeriesLength = 60

// SeriesSource supplies the price series technical alerts are evaluated on
type SeriesSource interface {
	Series(ctx context.Context, symbol string, latest models.Quote, length int) ([]float64, error)
}

// SyntheticSeries repeats the latest price length times. There is no price
// history behind it, so technical-indicator alerts evaluated on it are
// approximate: RSI reads 100, MACD reads 0 and MA crossovers never fire.
type SyntheticSeries struct{}

// Series implements SeriesSource
func (SyntheticSeries) Series(_ context.Context, _ string, latest models.Quote, length int) ([]float64, error) {
	if length <= 0 {
		length = DefaultSeriesLength
	}
	series := make([]float64, length)
	for i := range series {
		series[i] = latest.CurrentPrice
	}
	return series, nil
}
