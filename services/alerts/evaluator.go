package alerts

import (
	"fmt"
	"math"

	"quote_alert_backend/models"
	"quote_alert_backend/services/analysis"

	"github.com/shopspring/decimal"
)

// EqualityEpsilon is the tolerance of the == condition operator
const EqualityEpsilon = 0.01

// Default RSI bounds used when an RSI alert has no threshold
const (
	DefaultRSIOverbought = 70.0
	DefaultRSIOversold   = 30.0
)

// MarketData is everything an alert can be evaluated against
type MarketData struct {
	Quote  models.Quote
	Volume *float64
	Series []float64
}

// EvaluationResult is the outcome of evaluating one alert
type EvaluationResult struct {
	ShouldTrigger       bool   `json:"should_trigger"`
	Reason              string `json:"reason"`
	EvaluatedConditions []bool `json:"evaluated_conditions,omitempty"`
}

func noTrigger(reason string) EvaluationResult {
	return EvaluationResult{Reason: reason}
}

// Evaluate decides whether alert fires for data. It never panics; a panic or
// error inside evaluation becomes a non-triggering result carrying the message.
func Evaluate(alert *models.AlertDefinition, data MarketData) (result EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = noTrigger(fmt.Sprint(r))
		}
	}()

	if alert == nil {
		return noTrigger("alert is nil")
	}

	var err error
	switch alert.SubType {
	case models.AlertSubTypePrice:
		result, err = evaluatePrice(alert, data)
	case models.AlertSubTypeVolume:
		result, err = evaluateVolume(alert, data)
	case models.AlertSubTypePercentage:
		result, err = evaluatePercentage(alert, data)
	case models.AlertSubTypeTechnical:
		result, err = evaluateTechnical(alert, data)
	default:
		err = fmt.Errorf("unsupported alert sub type %q", alert.SubType)
	}
	if err != nil {
		return noTrigger(err.Error())
	}
	return result
}

// crosses applies the directional comparison: upper fires at or above the
// threshold, lower at or below it.
func crosses(direction models.AlertDirection, actual, threshold float64) (bool, error) {
	switch direction {
	case models.AlertUpper:
		return actual >= threshold, nil
	case models.AlertLower:
		return actual <= threshold, nil
	default:
		return false, fmt.Errorf("unsupported alert type %q", direction)
	}
}

func directional(alert *models.AlertDefinition, label string, actual, threshold float64) (EvaluationResult, error) {
	hit, err := crosses(alert.Type, actual, threshold)
	if err != nil {
		return EvaluationResult{}, err
	}

	op := ">="
	miss := "below"
	if alert.Type == models.AlertLower {
		op = "<="
		miss = "above"
	}
	if hit {
		return EvaluationResult{
			ShouldTrigger: true,
			Reason:        fmt.Sprintf("%s %s %s %s", label, formatFloat(actual), op, formatFloat(threshold)),
		}, nil
	}
	return noTrigger(fmt.Sprintf("%s %s %s %s", label, formatFloat(actual), miss, formatFloat(threshold))), nil
}

func evaluatePrice(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	if !alert.Threshold.Valid {
		return noTrigger("threshold not set"), nil
	}
	return directional(alert, "price", data.Quote.CurrentPrice, alert.Threshold.Decimal.InexactFloat64())
}

func evaluateVolume(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	if !alert.Threshold.Valid {
		return noTrigger("threshold not set"), nil
	}
	volume, ok := volumeOf(data)
	if !ok {
		return noTrigger("volume data unavailable"), nil
	}
	return directional(alert, "volume", volume, alert.Threshold.Decimal.InexactFloat64())
}

func evaluatePercentage(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	if !alert.PreviousDayClose.Valid || alert.PreviousDayClose.Decimal.IsZero() {
		return noTrigger("previous day close not set"), nil
	}
	if !alert.PercentageThreshold.Valid {
		return noTrigger("percentage threshold not set"), nil
	}
	pct := percentChange(data.Quote.CurrentPrice, alert.PreviousDayClose.Decimal.InexactFloat64())
	return directional(alert, "change %", pct, alert.PercentageThreshold.Decimal.InexactFloat64())
}

func evaluateTechnical(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	if len(alert.Conditions) > 0 {
		return evaluateConditions(alert, data)
	}
	if alert.Indicator != nil {
		return evaluateIndicator(alert, data)
	}
	return noTrigger("no conditions or indicator configured"), nil
}

func evaluateConditions(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	evaluated := make([]bool, len(alert.Conditions))
	for i, cond := range alert.Conditions {
		actual, ok, err := conditionValue(alert, cond.Type, data)
		if err != nil {
			return EvaluationResult{}, err
		}
		if !ok {
			continue
		}
		passed, err := compare(cond.Operator, actual, cond.Value)
		if err != nil {
			return EvaluationResult{}, err
		}
		evaluated[i] = passed
	}

	var fired bool
	switch alert.ConditionLogic {
	case models.LogicalOr:
		for _, ok := range evaluated {
			fired = fired || ok
		}
	case models.LogicalAnd, "":
		fired = true
		for _, ok := range evaluated {
			fired = fired && ok
		}
	default:
		return EvaluationResult{}, fmt.Errorf("unsupported condition logic %q", alert.ConditionLogic)
	}

	logic := alert.ConditionLogic
	if logic == "" {
		logic = models.LogicalAnd
	}
	passed := 0
	for _, ok := range evaluated {
		if ok {
			passed++
		}
	}
	return EvaluationResult{
		ShouldTrigger:       fired,
		Reason:              fmt.Sprintf("%d/%d conditions met (%s)", passed, len(evaluated), logic),
		EvaluatedConditions: evaluated,
	}, nil
}

// conditionValue selects the market value a condition reads. ok is false when
// the value is unavailable, which counts as a failed condition.
func conditionValue(alert *models.AlertDefinition, kind models.ConditionType, data MarketData) (float64, bool, error) {
	switch kind {
	case models.ConditionPrice:
		return data.Quote.CurrentPrice, true, nil
	case models.ConditionVolume:
		v, ok := volumeOf(data)
		return v, ok, nil
	case models.ConditionPercentage:
		if alert.PreviousDayClose.Valid && !alert.PreviousDayClose.Decimal.IsZero() {
			return percentChange(data.Quote.CurrentPrice, alert.PreviousDayClose.Decimal.InexactFloat64()), true, nil
		}
		return data.Quote.ChangePercent, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported condition type %q", kind)
	}
}

func compare(op models.ConditionOperator, actual, target float64) (bool, error) {
	switch op {
	case models.OperatorGreaterThan:
		return actual > target, nil
	case models.OperatorLessThan:
		return actual < target, nil
	case models.OperatorGreaterThanEqual:
		return actual >= target, nil
	case models.OperatorLessThanEqual:
		return actual <= target, nil
	case models.OperatorEqual:
		return math.Abs(actual-target) < EqualityEpsilon, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func evaluateIndicator(alert *models.AlertDefinition, data MarketData) (EvaluationResult, error) {
	cfg := alert.Indicator
	series := data.Series

	switch cfg.Type {
	case models.IndicatorRSI:
		period := cfg.Period
		if period <= 0 {
			period = analysis.DefaultRSIPeriod
		}
		threshold := cfg.Threshold
		if threshold == 0 {
			threshold = DefaultRSIOverbought
			if alert.Type == models.AlertLower {
				threshold = DefaultRSIOversold
			}
		}
		rsi := analysis.CalculateRSI(series, period)
		return directional(alert, fmt.Sprintf("RSI(%d)", period), rsi, threshold)

	case models.IndicatorMA:
		short := cfg.Period
		if short <= 0 {
			short = analysis.DefaultShortMA
		}
		if cfg.Crossover != "" {
			long := cfg.LongPeriod
			if long <= 0 {
				long = analysis.DefaultLongMA
			}
			if long <= short {
				return EvaluationResult{}, fmt.Errorf("long period %d must exceed short period %d", long, short)
			}
			if analysis.DetectCrossover(series, short, long, cfg.Crossover) {
				return EvaluationResult{
					ShouldTrigger: true,
					Reason:        fmt.Sprintf("%s cross of MA(%d) over MA(%d)", cfg.Crossover, short, long),
				}, nil
			}
			return noTrigger(fmt.Sprintf("no %s cross of MA(%d) over MA(%d)", cfg.Crossover, short, long)), nil
		}
		if len(series) < short {
			return noTrigger(fmt.Sprintf("insufficient data for MA(%d)", short)), nil
		}
		sma := analysis.CalculateSMA(series, short)
		return directional(alert, fmt.Sprintf("price (MA%d)", short), data.Quote.CurrentPrice, sma)

	case models.IndicatorMACD:
		if len(series) < analysis.MACDSlowPeriod {
			return noTrigger("insufficient data for MACD"), nil
		}
		macd := analysis.CalculateMACD(series)
		return directional(alert, "MACD histogram", macd.Histogram, cfg.Threshold)

	default:
		return EvaluationResult{}, fmt.Errorf("unsupported indicator %q", cfg.Type)
	}
}

func volumeOf(data MarketData) (float64, bool) {
	if data.Volume != nil {
		return *data.Volume, true
	}
	if data.Quote.Volume != nil {
		return *data.Quote.Volume, true
	}
	return 0, false
}

func percentChange(price, base float64) float64 {
	return (price - base) / base * 100
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return decimal.NewFromFloat(v).StringFixed(0)
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}
