package analysis

import (
	"math"
	"testing"

	"quote_alert_backend/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateSMA(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5}
	if got := CalculateSMA(series, 3); !almostEqual(got, 4) {
		t.Fatalf("expected SMA3=4, got %v", got)
	}
	if got := CalculateSMA(series, 6); got != 0 {
		t.Fatalf("expected 0 with insufficient samples, got %v", got)
	}
}

func TestCalculateEMA(t *testing.T) {
	// seed = (1+2+3)/3 = 2; multiplier = 0.5; ema = (4-2)*0.5+2 = 3
	if got := CalculateEMA([]float64{1, 2, 3, 4}, 3); !almostEqual(got, 3) {
		t.Fatalf("expected EMA=3, got %v", got)
	}
	if got := CalculateEMA([]float64{9}, 9); !almostEqual(got, 1) {
		t.Fatalf("expected single-point EMA to be value/period, got %v", got)
	}
}

func TestCalculateRSIIncreasingSeriesIs100(t *testing.T) {
	series := make([]float64, 20)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	if got := CalculateRSI(series, 14); got != 100 {
		t.Fatalf("expected RSI 100 for strictly increasing series, got %v", got)
	}
}

func TestCalculateRSINeutralWhenShort(t *testing.T) {
	if got := CalculateRSI([]float64{1, 2, 3}, 14); got != 50 {
		t.Fatalf("expected neutral RSI 50, got %v", got)
	}
}

func TestCalculateRSIMixed(t *testing.T) {
	// deltas over period 2: +2, -1 => avgGain 1, avgLoss 0.5, RS 2, RSI 66.67
	got := CalculateRSI([]float64{10, 12, 11}, 2)
	if math.Abs(got-66.6666666667) > 1e-6 {
		t.Fatalf("expected RSI ~66.67, got %v", got)
	}
}

func TestCalculateRSIAveragesOverWholeWindow(t *testing.T) {
	// deltas +2, -1, +1, -1; the window of 2 is (+1, -1) so each side averages 0.5
	got := CalculateRSI([]float64{10, 12, 11, 12, 11}, 2)
	if math.Abs(got-50) > 1e-9 {
		t.Fatalf("expected RSI 50, got %v", got)
	}

	// a flat delta still takes a slot in the window: (-1, 0, +2) gives 2/3 over 1/3
	got = CalculateRSI([]float64{10, 13, 12, 12, 14}, 3)
	if math.Abs(got-66.6666666667) > 1e-6 {
		t.Fatalf("expected RSI ~66.67, got %v", got)
	}
}

func TestCalculateMACD(t *testing.T) {
	if got := CalculateMACD(make([]float64, 25)); got != (MACDResult{}) {
		t.Fatalf("expected zero MACD with 25 samples, got %+v", got)
	}

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 50
	}
	if got := CalculateMACD(flat); !almostEqual(got.MACD, 0) || !almostEqual(got.Histogram, 0) {
		t.Fatalf("expected zero MACD for flat series, got %+v", got)
	}

	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = float64(i)
	}
	got := CalculateMACD(rising)
	if got.MACD <= 0 {
		t.Fatalf("expected positive MACD for rising series, got %+v", got)
	}
	if !almostEqual(got.Signal, got.MACD/9) || !almostEqual(got.Histogram, got.MACD-got.Signal) {
		t.Fatalf("unexpected signal/histogram: %+v", got)
	}
}

func TestDetectCrossover(t *testing.T) {
	// short=2, long=3
	golden := []float64{5, 5, 5, 4, 8}
	if !DetectCrossover(golden, 2, 3, models.CrossoverGolden) {
		t.Fatalf("expected golden crossover")
	}
	if DetectCrossover(golden, 2, 3, models.CrossoverDeath) {
		t.Fatalf("did not expect death crossover")
	}

	death := []float64{5, 5, 5, 6, 2}
	if !DetectCrossover(death, 2, 3, models.CrossoverDeath) {
		t.Fatalf("expected death crossover")
	}

	if DetectCrossover([]float64{1, 2, 3}, 2, 3, models.CrossoverGolden) {
		t.Fatalf("expected false with fewer than long+1 samples")
	}
}
