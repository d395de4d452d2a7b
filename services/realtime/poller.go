package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quote_alert_backend/models"
	"quote_alert_backend/services/quotes"

	"golang.org/x/sync/errgroup"
)

// Poller defaults
const (
	DefaultPollInterval  = 60 * time.Second
	DefaultFetchParallel = 20
)

// Poller fetches quotes for the global symbol set on a fixed interval while
// the set is non-empty, and idles otherwise.
type Poller struct {
	provider quotes.Provider
	cache    *QuoteCache
	symbols  func() []string
	deliver  func([]models.Quote)

	interval time.Duration
	parallel int

	mu       sync.Mutex
	running  bool
	stopped  bool
	stopChan chan struct{}
	starts   int
	lastTick time.Time

	inTick atomic.Bool
}

// NewPoller creates an idle poller
func NewPoller(provider quotes.Provider, cache *QuoteCache, symbols func() []string, deliver func([]models.Quote), interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		provider: provider,
		cache:    cache,
		symbols:  symbols,
		deliver:  deliver,
		interval: interval,
		parallel: DefaultFetchParallel,
		stopChan: make(chan struct{}),
	}
}

// Ensure starts the loop if it is idle and there is something to poll.
// Returns true when a new loop was started.
func (p *Poller) Ensure() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped || len(p.symbols()) == 0 {
		return false
	}
	p.running = true
	p.starts++
	go p.loop()

	log.Printf("Started quote polling (interval: %v)", p.interval)
	return true
}

// Stop ends the loop and prevents further starts
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopChan)
	log.Println("Quote polling stopped")
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		case <-ticker.C:
			if !p.stillNeeded() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			p.Tick(ctx)
			cancel()
		}
	}
}

// stillNeeded flips to idle when nobody is subscribed. The check and the flip
// happen under the same lock Ensure uses, so a concurrent subscribe either
// sees the loop running or starts a new one.
func (p *Poller) stillNeeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.symbols()) > 0 {
		return true
	}
	p.running = false
	log.Println("Quote polling idle: no subscribed symbols")
	return false
}

// Tick fetches every subscribed symbol once and delivers the quotes that
// changed since they were last emitted. A tick that overlaps a running one is skipped.
func (p *Poller) Tick(ctx context.Context) []models.Quote {
	if !p.inTick.CompareAndSwap(false, true) {
		return nil
	}
	defer p.inTick.Store(false)

	p.mu.Lock()
	p.lastTick = time.Now()
	p.mu.Unlock()

	symbols := p.symbols()
	if len(symbols) == 0 {
		return nil
	}

	fetched := p.fetchAll(ctx, symbols)
	changed := make([]models.Quote, 0, len(fetched))
	for _, q := range fetched {
		if p.cache.ShouldEmit(q) {
			changed = append(changed, q)
		}
	}

	if len(changed) > 0 {
		p.deliver(changed)
	}
	return changed
}

// FetchForced fetches symbols now, outside the tick cadence, and always
// overwrites the cache. Quotes that differ from the cached value come back as
// changed, the rest as unchanged. Nothing is delivered.
func (p *Poller) FetchForced(ctx context.Context, symbols []string) (changed, unchanged []models.Quote) {
	for _, q := range p.fetchAll(ctx, symbols) {
		if p.cache.ShouldEmit(q) {
			changed = append(changed, q)
		} else {
			p.cache.Put(q)
			unchanged = append(unchanged, q)
		}
	}
	return changed, unchanged
}

// fetchAll fetches each symbol in its own task; failed symbols are left out
func (p *Poller) fetchAll(ctx context.Context, symbols []string) []models.Quote {
	results := make([]*models.Quote, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, sym := range symbols {
		g.Go(func() error {
			q, err := p.provider.GetQuote(gctx, sym)
			if err != nil {
				if !errors.Is(err, quotes.ErrRateLimited) {
					log.Printf("Warning: quote fetch failed for %s: %v", sym, err)
				}
				return nil
			}
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.Quote, 0, len(symbols))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// IsRunning reports whether the loop is active
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Starts returns how many times the loop has been started
func (p *Poller) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// LastTick returns when the most recent tick began
func (p *Poller) LastTick() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTick
}
