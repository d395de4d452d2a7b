package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"quote_alert_backend/models"
)

var (
	// ErrRateLimited is returned when the upstream answers 429
	ErrRateLimited = errors.New("quote provider rate limited")
	// ErrInvalidPrice is returned when the upstream price is missing, non-numeric or not positive
	ErrInvalidPrice = errors.New("invalid quote price")
)

// Provider supplies a point-in-time quote for a symbol.
// Implementations return a non-nil error whenever no usable quote is available.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match 429 responses
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// quoteResponse is the upstream quote payload (Finnhub /quote layout)
type quoteResponse struct {
	Current       *float64 `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	High          float64  `json:"h"`
	Low           float64  `json:"l"`
	Open          float64  `json:"o"`
	PreviousClose float64  `json:"pc"`
	Volume        *float64 `json:"v"`
	Timestamp     int64    `json:"t"`
}

// HTTPProvider fetches quotes from a REST quote API
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu            sync.RWMutex
	rateLimitedAt time.Time
}

// NewHTTPProvider creates a provider for the given API base URL
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetQuote fetches the current quote for symbol
func (p *HTTPProvider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	if p.apiKey != "" {
		values.Set("token", p.apiKey)
	}
	endpoint := p.baseURL + "/quote?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusTooManyRequests {
			p.markRateLimited()
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return payload.toQuote(symbol)
}

// RateLimitedAt returns the last time the upstream answered 429, zero if never
func (p *HTTPProvider) RateLimitedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rateLimitedAt
}

func (p *HTTPProvider) markRateLimited() {
	now := time.Now()
	p.mu.Lock()
	p.rateLimitedAt = now
	p.mu.Unlock()
	log.Printf("Warning: quote provider rate limited, cool-down recorded at %s", now.Format(time.RFC3339))
}

func (r *quoteResponse) toQuote(symbol string) (*models.Quote, error) {
	if r.Current == nil || !validPrice(*r.Current) {
		return nil, fmt.Errorf("%w for %s", ErrInvalidPrice, symbol)
	}

	quote := &models.Quote{
		Symbol:        models.NormalizeSymbol(symbol),
		CurrentPrice:  *r.Current,
		PreviousClose: r.PreviousClose,
		High:          r.High,
		Low:           r.Low,
		Open:          r.Open,
		Volume:        r.Volume,
		Timestamp:     time.Now().UTC(),
	}
	if r.Change != nil {
		quote.Change = *r.Change
	}
	if r.ChangePercent != nil {
		quote.ChangePercent = *r.ChangePercent
	}
	if r.Timestamp > 0 {
		quote.Timestamp = time.Unix(r.Timestamp, 0).UTC()
	}
	return quote, nil
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
