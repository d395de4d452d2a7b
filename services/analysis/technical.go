package analysis

import "quote_alert_backend/models"

// Default indicator periods
const (
	DefaultRSIPeriod = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	DefaultShortMA   = 20
	DefaultLongMA    = 50
	NeutralRSI       = 50.0
	MaxRSI           = 100.0
)

// CalculateSMA calculates the Simple Moving Average of the last period values.
// Returns 0 when fewer than period samples are available.
func CalculateSMA(series []float64, period int) float64 {
	if period <= 0 || len(series) < period {
		return 0
	}

	sum := 0.0
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// CalculateEMA calculates the Exponential Moving Average.
// The seed is the sum of the first period values divided by period; with fewer
// samples than period the missing values count as zero, so a single-point series
// is smoothed to value/period.
func CalculateEMA(series []float64, period int) float64 {
	if period <= 0 || len(series) == 0 {
		return 0
	}

	seedLen := period
	if len(series) < seedLen {
		seedLen = len(series)
	}
	sum := 0.0
	for _, v := range series[:seedLen] {
		sum += v
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for _, v := range series[seedLen:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema
}

// CalculateRSI calculates the Relative Strength Index over the last period deltas.
// Each delta counts toward both averages, as a gain or a loss with the other
// side zero, so both averages divide by period.
// Returns 50 with fewer than period+1 samples and 100 when there are no losses.
func CalculateRSI(series []float64, period int) float64 {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if len(series) < period+1 {
		return NeutralRSI
	}

	gains := make([]float64, 0, len(series)-1)
	losses := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := sumTail(gains, period) / float64(period)
	avgLoss := sumTail(losses, period) / float64(period)

	if avgLoss == 0 {
		return MaxRSI
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds MACD calculation results
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// CalculateMACD calculates MACD (12, 26, 9). The signal line smooths the single
// latest MACD value. Requires at least 26 samples, otherwise all fields are zero.
func CalculateMACD(series []float64) MACDResult {
	if len(series) < MACDSlowPeriod {
		return MACDResult{}
	}

	macd := CalculateEMA(series, MACDFastPeriod) - CalculateEMA(series, MACDSlowPeriod)
	signal := CalculateEMA([]float64{macd}, MACDSignalPeriod)

	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}
}

// DetectCrossover reports whether the short SMA crossed the long SMA between the
// previous and the latest sample in the given direction.
// Requires at least longPeriod+1 samples.
func DetectCrossover(series []float64, shortPeriod, longPeriod int, direction models.CrossoverType) bool {
	if shortPeriod <= 0 || longPeriod <= 0 || len(series) < longPeriod+1 {
		return false
	}

	prev := series[:len(series)-1]
	prevShort := CalculateSMA(prev, shortPeriod)
	prevLong := CalculateSMA(prev, longPeriod)
	curShort := CalculateSMA(series, shortPeriod)
	curLong := CalculateSMA(series, longPeriod)

	switch direction {
	case models.CrossoverGolden:
		return prevShort <= prevLong && curShort > curLong
	case models.CrossoverDeath:
		return prevShort >= prevLong && curShort < curLong
	default:
		return false
	}
}

func sumTail(values []float64, n int) float64 {
	if n > len(values) {
		n = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum
}
