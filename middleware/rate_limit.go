package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestWindow tracks requests from an IP in the current window
type requestWindow struct {
	Count     int
	StartedAt time.Time
}

// RateLimiter limits requests per client IP within a fixed window
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*requestWindow
	limit   int
	period  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter
// limit: maximum requests allowed per IP within period
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*requestWindow),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// StartCleanup periodically drops expired windows until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, w := range rl.windows {
		if now.Sub(w.StartedAt) > rl.period {
			delete(rl.windows, ip)
		}
	}
}

// Allow records a request from ip and reports whether it is within the limit,
// how many requests remain and, when refused, how long until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[ip]
	if !exists || now.Sub(w.StartedAt) > rl.period {
		rl.windows[ip] = &requestWindow{Count: 1, StartedAt: now}
		return true, rl.limit - 1, 0
	}

	if w.Count >= rl.limit {
		return false, 0, rl.period - now.Sub(w.StartedAt)
	}
	w.Count++
	return true, rl.limit - w.Count, 0
}

// RateLimitMiddleware refuses requests over the limit with 429
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Allow(c.ClientIP())

		// Set headers for client awareness
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			seconds := int(retryAfter.Seconds()) + 1
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Too many requests. Please try again in %d second(s).", seconds),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
