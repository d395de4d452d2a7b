package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quote_alert_backend/models"
	"quote_alert_backend/services/notify"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "alerts.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.MigrateUserModels(db); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	if err := models.MigrateAlertModels(db); err != nil {
		t.Fatalf("migrate alerts: %v", err)
	}
	return NewStore(db), db
}

type stubProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

func (s *stubProvider) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[symbol]++
	price, ok := s.prices[symbol]
	if !ok {
		return nil, errors.New("quote unavailable")
	}
	return &models.Quote{Symbol: symbol, CurrentPrice: price, Timestamp: time.Now()}, nil
}

type recordingDispatcher struct {
	mu         sync.Mutex
	deliveries []notify.Delivery
	failOn     notify.Channel
}

func (r *recordingDispatcher) Dispatch(_ context.Context, deliveries []notify.Delivery) []notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	results := make([]notify.Result, len(deliveries))
	for i, d := range deliveries {
		r.deliveries = append(r.deliveries, d)
		results[i] = notify.Result{Delivery: d}
		if d.Channel == r.failOn {
			results[i].Err = errors.New("gateway down")
		}
	}
	return results
}

type memorySink struct {
	entries []models.AlertTriggerHistory
}

func (m *memorySink) Archive(_ context.Context, entry models.AlertTriggerHistory) error {
	m.entries = append(m.entries, entry)
	return nil
}

func priceAlert(userID uint, symbol string, threshold float64) *models.AlertDefinition {
	return &models.AlertDefinition{
		UserID:      userID,
		Symbol:      symbol,
		Type:        models.AlertUpper,
		SubType:     models.AlertSubTypePrice,
		Threshold:   nullDecimal(threshold),
		IsActive:    true,
		NotifyEmail: true,
		NotifyPush:  true,
	}
}

func TestPipelineFiresExactlyOnce(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	user := models.User{AuthSubject: "u1", Email: "u1@example.com", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	hit := priceAlert(user.ID, "AAPL", 100)
	miss := priceAlert(user.ID, "AAPL", 200)
	other := priceAlert(user.ID, "MSFT", 10)
	inactive := priceAlert(user.ID, "AAPL", 50)
	inactive.IsActive = false
	for _, a := range []*models.AlertDefinition{hit, miss, other, inactive} {
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	provider := &stubProvider{prices: map[string]float64{"AAPL": 150}}
	dispatcher := &recordingDispatcher{failOn: notify.ChannelEmail}
	sink := &memorySink{}
	p := NewPipeline(store, provider, nil, dispatcher, sink)

	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Alerts != 3 || summary.Symbols != 2 || summary.QuoteFailures != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Evaluated != 2 || summary.Triggered != 1 {
		t.Fatalf("expected one trigger out of two evaluated, got %+v", summary)
	}
	if summary.Notified != 1 || summary.NotifyFailures != 1 {
		t.Fatalf("expected push delivered and email failed, got %+v", summary)
	}
	if provider.calls["AAPL"] != 1 {
		t.Fatalf("expected one quote fetch for AAPL, got %d", provider.calls["AAPL"])
	}
	if len(dispatcher.deliveries) != 2 || dispatcher.deliveries[0].Recipient.Email != "u1@example.com" {
		t.Fatalf("unexpected deliveries: %+v", dispatcher.deliveries)
	}

	// the failed email does not roll back the trigger
	fired, err := store.Get(ctx, user.ID, hit.ID)
	if err != nil || fired.TriggeredAt == nil {
		t.Fatalf("expected alert marked triggered, got %+v, %v", fired, err)
	}
	if len(sink.entries) != 1 || sink.entries[0].AlertID != hit.ID {
		t.Fatalf("expected archived trigger, got %+v", sink.entries)
	}
	history, err := store.History(ctx, user.ID, 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history entry, got %v, %v", history, err)
	}

	// second run with the condition still true must not notify again
	summary, err = p.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Triggered != 0 || len(dispatcher.deliveries) != 2 {
		t.Fatalf("expected no second notification, summary=%+v deliveries=%d", summary, len(dispatcher.deliveries))
	}

	// editing re-arms
	fired.Threshold = nullDecimal(120)
	if err := store.Update(ctx, fired); err != nil {
		t.Fatalf("update: %v", err)
	}
	summary, _ = p.Run(ctx)
	if summary.Triggered != 1 {
		t.Fatalf("expected re-armed alert to fire again, got %+v", summary)
	}
}

func TestMarkTriggeredIsConditional(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	alert := priceAlert(1, "AAPL", 100)
	if err := store.Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	ok, err := store.MarkTriggered(ctx, alert.ID, now)
	if err != nil || !ok {
		t.Fatalf("expected first mark to succeed: %v, %v", ok, err)
	}
	ok, err = store.MarkTriggered(ctx, alert.ID, now.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("expected second mark to be a no-op: %v, %v", ok, err)
	}

	active, err := store.GetActiveAlerts(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no armed alerts, got %v, %v", active, err)
	}
}

func TestStoreCRUD(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	alert := priceAlert(1, "AAPL", 100)
	alert.NotifyEmail = false
	alert.Conditions = []models.Condition{{Type: models.ConditionPrice, Operator: models.OperatorGreaterThan, Value: 1}}
	if err := store.Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, 1, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NotifyEmail || len(got.Conditions) != 1 || !got.Threshold.Valid || !got.Threshold.Decimal.Equal(alert.Threshold.Decimal) {
		t.Fatalf("unexpected stored alert: %+v", got)
	}
	if _, err := store.Get(ctx, 2, alert.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected other user's lookup to fail, got %v", err)
	}

	count, _ := store.CountByUser(ctx, 1)
	if count != 1 {
		t.Fatalf("expected 1 alert, got %d", count)
	}

	if err := store.Delete(ctx, 1, alert.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, 1, alert.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
	list, _ := store.ListByUser(ctx, 1)
	if len(list) != 0 {
		t.Fatalf("expected deleted alert hidden, got %d", len(list))
	}
}

func TestPipelineSkipsOverlappingRun(t *testing.T) {
	store, _ := setupStore(t)
	p := NewPipeline(store, &stubProvider{}, nil, &recordingDispatcher{}, nil)

	p.mu.Lock()
	_, err := p.Run(context.Background())
	p.mu.Unlock()
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestPruneHistory(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	old := &models.AlertTriggerHistory{AlertID: 1, UserID: 1, Symbol: "AAPL", TriggeredAt: time.Now().AddDate(0, 0, -100)}
	recent := &models.AlertTriggerHistory{AlertID: 2, UserID: 1, Symbol: "AAPL", TriggeredAt: time.Now()}
	for _, e := range []*models.AlertTriggerHistory{old, recent} {
		if err := store.RecordTrigger(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := store.PruneHistory(ctx, time.Now().AddDate(0, 0, -90))
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned entry, got %d, %v", n, err)
	}
}

func TestPipelineContinuesPastBrokenAlerts(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	user := models.User{AuthSubject: "u1", Email: "u1@example.com", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	unknownKind := priceAlert(user.ID, "AAPL", 100)
	unknownKind.SubType = "astrology"
	sideways := priceAlert(user.ID, "AAPL", 100)
	sideways.Type = "sideways"
	good := priceAlert(user.ID, "AAPL", 100)
	for _, a := range []*models.AlertDefinition{unknownKind, sideways, good} {
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	provider := &stubProvider{prices: map[string]float64{"AAPL": 150}}
	dispatcher := &recordingDispatcher{}
	p := NewPipeline(store, provider, nil, dispatcher, &memorySink{})

	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Evaluated != 3 || summary.Triggered != 1 {
		t.Fatalf("expected the batch to evaluate all three and fire one, got %+v", summary)
	}

	for _, a := range []*models.AlertDefinition{unknownKind, sideways} {
		got, err := store.Get(ctx, user.ID, a.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.Armed() {
			t.Fatalf("expected broken alert %d to stay armed", a.ID)
		}
	}
	fired, err := store.Get(ctx, user.ID, good.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fired.Armed() || fired.TriggeredAt == nil {
		t.Fatalf("expected valid alert to fire, got %+v", fired)
	}
	if len(dispatcher.deliveries) != 2 {
		t.Fatalf("expected email and push for the fired alert, got %d", len(dispatcher.deliveries))
	}
}
