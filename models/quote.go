package models

import (
	"strings"
	"time"
)

// Quote is a point-in-time price snapshot for a symbol.
// Field names follow the realtime wire protocol, which is why they are camelCase
// unlike the persisted models.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"currentPrice"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	PreviousClose float64   `json:"previousClose"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	Volume        *float64  `json:"volume,omitempty"` // nil when the provider does not report volume
	Timestamp     time.Time `json:"timestamp"`
}

// SameTick reports whether two quotes carry the same price, change and change percent.
// Comparison is exact; any difference counts as a new value.
func (q Quote) SameTick(other Quote) bool {
	return q.CurrentPrice == other.CurrentPrice &&
		q.Change == other.Change &&
		q.ChangePercent == other.ChangePercent
}

// NormalizeSymbol trims and upper-cases a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols normalizes a list of symbols, dropping blanks and duplicates
// while keeping the first-seen order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
