package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks request-weight usage reported by the exchange.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a weight tracker.
// limit: maximum weight allowed per window (2400/min for futures).
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight from an API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 90 {
		log.Printf("exchange: rate limit critical %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	}
}

// Usage returns the current weight usage within the window.
func (rl *RateLimiter) Usage() (used, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit
	}
	return rl.usedWeight, rl.limit
}
