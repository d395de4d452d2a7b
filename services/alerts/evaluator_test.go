package alerts

import (
	"context"
	"strings"
	"testing"

	"quote_alert_backend/models"

	"github.com/shopspring/decimal"
)

func nullDecimal(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func quoteAt(price float64) MarketData {
	return MarketData{Quote: models.Quote{Symbol: "AAPL", CurrentPrice: price, ChangePercent: 1.5}}
}

func TestEvaluatePriceThresholdBoundary(t *testing.T) {
	alert := &models.AlertDefinition{
		Type:      models.AlertUpper,
		SubType:   models.AlertSubTypePrice,
		Threshold: nullDecimal(100),
	}

	if res := Evaluate(alert, quoteAt(100)); !res.ShouldTrigger {
		t.Fatalf("expected trigger at threshold, got %+v", res)
	}
	if res := Evaluate(alert, quoteAt(99.99)); res.ShouldTrigger {
		t.Fatalf("expected no trigger below threshold, got %+v", res)
	}

	alert.Type = models.AlertLower
	if res := Evaluate(alert, quoteAt(99.99)); !res.ShouldTrigger {
		t.Fatalf("expected lower alert to trigger below threshold, got %+v", res)
	}
	if res := Evaluate(alert, quoteAt(100.01)); res.ShouldTrigger {
		t.Fatalf("expected lower alert not to trigger above threshold, got %+v", res)
	}
}

func TestEvaluateMissingInputs(t *testing.T) {
	tests := []struct {
		name   string
		alert  *models.AlertDefinition
		reason string
	}{
		{
			name:   "price without threshold",
			alert:  &models.AlertDefinition{Type: models.AlertUpper, SubType: models.AlertSubTypePrice},
			reason: "threshold not set",
		},
		{
			name:   "volume without data",
			alert:  &models.AlertDefinition{Type: models.AlertUpper, SubType: models.AlertSubTypeVolume, Threshold: nullDecimal(1000)},
			reason: "volume data unavailable",
		},
		{
			name:   "percentage without baseline",
			alert:  &models.AlertDefinition{Type: models.AlertUpper, SubType: models.AlertSubTypePercentage, PercentageThreshold: nullDecimal(5)},
			reason: "previous day close not set",
		},
		{
			name:   "unknown sub type",
			alert:  &models.AlertDefinition{Type: models.AlertUpper, SubType: "astrology"},
			reason: "unsupported alert sub type",
		},
		{
			name:   "unknown direction",
			alert:  &models.AlertDefinition{Type: "sideways", SubType: models.AlertSubTypePrice, Threshold: nullDecimal(1)},
			reason: "unsupported alert type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(tc.alert, quoteAt(150))
			if res.ShouldTrigger || !strings.Contains(res.Reason, tc.reason) {
				t.Fatalf("expected no trigger with reason %q, got %+v", tc.reason, res)
			}
		})
	}
}

func TestEvaluateVolume(t *testing.T) {
	alert := &models.AlertDefinition{Type: models.AlertUpper, SubType: models.AlertSubTypeVolume, Threshold: nullDecimal(1000)}
	vol := 1500.0
	data := quoteAt(10)
	data.Volume = &vol
	if res := Evaluate(alert, data); !res.ShouldTrigger {
		t.Fatalf("expected volume trigger, got %+v", res)
	}
}

func TestEvaluatePercentage(t *testing.T) {
	alert := &models.AlertDefinition{
		Type:                models.AlertUpper,
		SubType:             models.AlertSubTypePercentage,
		PercentageThreshold: nullDecimal(5),
		PreviousDayClose:    nullDecimal(100),
	}
	if res := Evaluate(alert, quoteAt(105)); !res.ShouldTrigger {
		t.Fatalf("expected +5%% to trigger, got %+v", res)
	}
	if res := Evaluate(alert, quoteAt(104.9)); res.ShouldTrigger {
		t.Fatalf("expected +4.9%% not to trigger, got %+v", res)
	}

	alert.Type = models.AlertLower
	alert.PercentageThreshold = nullDecimal(-3)
	if res := Evaluate(alert, quoteAt(96)); !res.ShouldTrigger {
		t.Fatalf("expected -4%% to trigger lower alert, got %+v", res)
	}
}

func TestEvaluateCompositeConditions(t *testing.T) {
	vol := 2000.0
	data := quoteAt(100.005)
	data.Volume = &vol

	conditions := []models.Condition{
		{Type: models.ConditionPrice, Operator: models.OperatorEqual, Value: 100},
		{Type: models.ConditionVolume, Operator: models.OperatorGreaterThan, Value: 5000},
		{Type: models.ConditionPercentage, Operator: models.OperatorGreaterThanEqual, Value: 1.5},
	}
	alert := &models.AlertDefinition{
		Type:           models.AlertUpper,
		SubType:        models.AlertSubTypeTechnical,
		Conditions:     conditions,
		ConditionLogic: models.LogicalAnd,
	}

	res := Evaluate(alert, data)
	want := []bool{true, false, true}
	if res.ShouldTrigger {
		t.Fatalf("expected AND to fail, got %+v", res)
	}
	for i, v := range want {
		if res.EvaluatedConditions[i] != v {
			t.Fatalf("condition %d: expected %v, got %v", i, v, res.EvaluatedConditions[i])
		}
	}

	alert.ConditionLogic = models.LogicalOr
	if res := Evaluate(alert, data); !res.ShouldTrigger || len(res.EvaluatedConditions) != 3 {
		t.Fatalf("expected OR to pass, got %+v", res)
	}

	alert.Conditions = []models.Condition{{Type: models.ConditionPrice, Operator: "~", Value: 1}}
	if res := Evaluate(alert, data); res.ShouldTrigger || !strings.Contains(res.Reason, "unsupported operator") {
		t.Fatalf("expected operator error as reason, got %+v", res)
	}
}

func TestEvaluateIndicators(t *testing.T) {
	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}

	rsi := &models.AlertDefinition{
		Type:      models.AlertUpper,
		SubType:   models.AlertSubTypeTechnical,
		Indicator: &models.TechnicalIndicatorConfig{Type: models.IndicatorRSI, Period: 14, Threshold: 70},
	}
	if res := Evaluate(rsi, MarketData{Quote: models.Quote{CurrentPrice: 139}, Series: rising}); !res.ShouldTrigger {
		t.Fatalf("expected RSI 100 to exceed 70, got %+v", res)
	}

	macd := &models.AlertDefinition{
		Type:      models.AlertUpper,
		SubType:   models.AlertSubTypeTechnical,
		Indicator: &models.TechnicalIndicatorConfig{Type: models.IndicatorMACD},
	}
	if res := Evaluate(macd, MarketData{Quote: models.Quote{CurrentPrice: 139}, Series: rising}); !res.ShouldTrigger {
		t.Fatalf("expected positive MACD histogram to trigger, got %+v", res)
	}
	if res := Evaluate(macd, MarketData{Series: rising[:10]}); res.ShouldTrigger {
		t.Fatalf("expected MACD with short series not to trigger, got %+v", res)
	}

	golden := &models.AlertDefinition{
		Type:      models.AlertUpper,
		SubType:   models.AlertSubTypeTechnical,
		Indicator: &models.TechnicalIndicatorConfig{Type: models.IndicatorMA, Period: 2, LongPeriod: 3, Crossover: models.CrossoverGolden},
	}
	if res := Evaluate(golden, MarketData{Series: []float64{5, 5, 5, 4, 8}}); !res.ShouldTrigger {
		t.Fatalf("expected golden cross, got %+v", res)
	}

	above := &models.AlertDefinition{
		Type:      models.AlertUpper,
		SubType:   models.AlertSubTypeTechnical,
		Indicator: &models.TechnicalIndicatorConfig{Type: models.IndicatorMA, Period: 5},
	}
	if res := Evaluate(above, MarketData{Quote: models.Quote{CurrentPrice: 200}, Series: rising}); !res.ShouldTrigger {
		t.Fatalf("expected price above SMA to trigger, got %+v", res)
	}
}

func TestSyntheticSeriesIsFlat(t *testing.T) {
	series, err := SyntheticSeries{}.Series(context.Background(), "AAPL", models.Quote{CurrentPrice: 42}, 0)
	if err != nil || len(series) != DefaultSeriesLength {
		t.Fatalf("unexpected series: %v, %v", len(series), err)
	}
	for _, v := range series {
		if v != 42 {
			t.Fatalf("expected flat series at 42, got %v", v)
		}
	}
}
