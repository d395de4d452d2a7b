package alerts

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"quote_alert_backend/models"
	"quote_alert_backend/services/notify"
	"quote_alert_backend/services/quotes"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when Run is called while a previous run is still going
var ErrRunInProgress = errors.New("alert evaluation already running")

// Repository is the persistence the pipeline needs
type Repository interface {
	GetActiveAlerts(ctx context.Context) ([]models.AlertDefinition, error)
	MarkTriggered(ctx context.Context, id uint, at time.Time) (bool, error)
	RecordTrigger(ctx context.Context, entry *models.AlertTriggerHistory) error
	Recipient(ctx context.Context, userID uint) (notify.Recipient, error)
}

// Dispatcher delivers notifications
type Dispatcher interface {
	Dispatch(ctx context.Context, deliveries []notify.Delivery) []notify.Result
}

// HistorySink receives a copy of every trigger, e.g. an external archive
type HistorySink interface {
	Archive(ctx context.Context, entry models.AlertTriggerHistory) error
}

// RunSummary describes one pipeline run
type RunSummary struct {
	Alerts         int           `json:"alerts"`
	Symbols        int           `json:"symbols"`
	QuoteFailures  int           `json:"quote_failures"`
	Evaluated      int           `json:"evaluated"`
	Triggered      int           `json:"triggered"`
	Notified       int           `json:"notified"`
	NotifyFailures int           `json:"notify_failures"`
	Duration       time.Duration `json:"duration"`
}

// Pipeline loads armed alerts, evaluates them against fresh quotes, persists
// triggers and dispatches notifications.
type Pipeline struct {
	repo       Repository
	provider   quotes.Provider
	series     SeriesSource
	dispatcher Dispatcher
	sink       HistorySink

	now           func() time.Time
	fetchParallel int

	mu sync.Mutex
}

// NewPipeline creates a pipeline. sink may be nil.
func NewPipeline(repo Repository, provider quotes.Provider, series SeriesSource, dispatcher Dispatcher, sink HistorySink) *Pipeline {
	if series == nil {
		series = SyntheticSeries{}
	}
	return &Pipeline{
		repo:          repo,
		provider:      provider,
		series:        series,
		dispatcher:    dispatcher,
		sink:          sink,
		now:           time.Now,
		fetchParallel: 10,
	}
}

// Run performs one evaluation batch
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	if !p.mu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	var summary RunSummary

	alerts, err := p.repo.GetActiveAlerts(ctx)
	if err != nil {
		return summary, err
	}
	summary.Alerts = len(alerts)

	groups := make(map[string][]models.AlertDefinition)
	for _, alert := range alerts {
		if !alert.Armed() {
			continue
		}
		sym := models.NormalizeSymbol(alert.Symbol)
		groups[sym] = append(groups[sym], alert)
	}
	symbols := make([]string, 0, len(groups))
	for sym := range groups {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	summary.Symbols = len(symbols)

	latest := p.fetchQuotes(ctx, symbols)

	var deliveries []notify.Delivery
	for _, sym := range symbols {
		quote, ok := latest[sym]
		if !ok {
			summary.QuoteFailures++
			continue
		}

		series, err := p.series.Series(ctx, sym, quote, DefaultSeriesLength)
		if err != nil {
			log.Printf("Warning: no price series for %s: %v", sym, err)
		}
		data := MarketData{Quote: quote, Volume: quote.Volume, Series: series}

		for i := range groups[sym] {
			alert := &groups[sym][i]
			result := Evaluate(alert, data)
			summary.Evaluated++
			if !result.ShouldTrigger {
				continue
			}

			d, fired := p.fire(ctx, alert, quote, result)
			if !fired {
				continue
			}
			summary.Triggered++
			deliveries = append(deliveries, d...)
		}
	}

	if len(deliveries) > 0 && p.dispatcher != nil {
		results := p.dispatcher.Dispatch(ctx, deliveries)
		failed := len(notify.Failed(results))
		summary.NotifyFailures = failed
		summary.Notified = len(results) - failed
	}

	summary.Duration = time.Since(start)
	log.Printf("Alert run: %d alerts, %d symbols, %d triggered, %d notified, %d notification failures (%v)",
		summary.Alerts, summary.Symbols, summary.Triggered, summary.Notified, summary.NotifyFailures, summary.Duration)
	return summary, nil
}

// fire persists the trigger and returns the deliveries for it. It returns
// false when the alert was already marked by someone else.
func (p *Pipeline) fire(ctx context.Context, alert *models.AlertDefinition, quote models.Quote, result EvaluationResult) ([]notify.Delivery, bool) {
	now := p.now()
	marked, err := p.repo.MarkTriggered(ctx, alert.ID, now)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return nil, false
	}
	if !marked {
		return nil, false
	}

	entry := models.AlertTriggerHistory{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		Symbol:      alert.Symbol,
		Price:       decimal.NewFromFloat(quote.CurrentPrice),
		Reason:      result.Reason,
		TriggeredAt: now,
	}
	if err := p.repo.RecordTrigger(ctx, &entry); err != nil {
		log.Printf("Warning: %v", err)
	}
	if p.sink != nil {
		if err := p.sink.Archive(ctx, entry); err != nil {
			log.Printf("Warning: failed to archive trigger for alert %d: %v", alert.ID, err)
		}
	}

	recipient, err := p.repo.Recipient(ctx, alert.UserID)
	if err != nil {
		log.Printf("Warning: %v", err)
	}

	event := notify.Event{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		Symbol:      alert.Symbol,
		Price:       quote.CurrentPrice,
		Reason:      result.Reason,
		TriggeredAt: now,
	}

	var deliveries []notify.Delivery
	for _, ch := range channelsFor(alert) {
		deliveries = append(deliveries, notify.Delivery{Channel: ch, Recipient: recipient, Event: event})
	}
	log.Printf("Alert %d triggered for user %d on %s: %s", alert.ID, alert.UserID, alert.Symbol, result.Reason)
	return deliveries, true
}

func channelsFor(alert *models.AlertDefinition) []notify.Channel {
	var out []notify.Channel
	if alert.NotifyEmail {
		out = append(out, notify.ChannelEmail)
	}
	if alert.NotifyPush {
		out = append(out, notify.ChannelPush)
	}
	if alert.NotifySMS {
		out = append(out, notify.ChannelSMS)
	}
	return out
}

// fetchQuotes gets one quote per symbol; symbols that fail are absent from the result
func (p *Pipeline) fetchQuotes(ctx context.Context, symbols []string) map[string]models.Quote {
	var mu sync.Mutex
	out := make(map[string]models.Quote, len(symbols))

	var g errgroup.Group
	g.SetLimit(p.fetchParallel)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := p.provider.GetQuote(ctx, sym)
			if err != nil {
				log.Printf("Warning: alert quote fetch failed for %s: %v", sym, err)
				return nil
			}
			mu.Lock()
			out[sym] = *q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
