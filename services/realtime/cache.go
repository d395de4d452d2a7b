package realtime

import (
	"sync"

	"quote_alert_backend/models"
)

// QuoteCache holds the last emitted quote per symbol
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]models.Quote
}

// NewQuoteCache creates an empty cache
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{entries: make(map[string]models.Quote)}
}

// ShouldEmit reports whether q differs from the cached quote for its symbol
// and, if so, overwrites the entry.
func (c *QuoteCache) ShouldEmit(q models.Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.entries[q.Symbol]; ok && cached.SameTick(q) {
		return false
	}
	c.entries[q.Symbol] = q
	return true
}

// Put overwrites the cached quote unconditionally
func (c *QuoteCache) Put(q models.Quote) {
	c.mu.Lock()
	c.entries[q.Symbol] = q
	c.mu.Unlock()
}

// Get returns the cached quote for symbol
func (c *QuoteCache) Get(symbol string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.entries[symbol]
	return q, ok
}

// Len returns the number of cached symbols
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
