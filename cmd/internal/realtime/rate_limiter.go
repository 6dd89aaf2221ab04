package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound frame chatter on a single subscription. The
// gateway consults it once per client frame; a frame over the limit closes
// the connection with a policy violation.
//
// Accounting is a sliding log of recent event times. Callers feed times in
// non-decreasing order (the gateway's read loop does), so expiry only ever
// trims the head of the log.
type RateLimiter struct {
	mu     sync.Mutex
	recent []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter admitting at most limit events per window.
// Non-positive inputs fall back to the gateway defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		recent: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it fits the window.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	drop := 0
	for drop < len(r.recent) && !r.recent[drop].After(cut) {
		drop++
	}
	if drop > 0 {
		r.recent = append(r.recent[:0], r.recent[drop:]...)
	}

	if len(r.recent) >= r.limit {
		return false
	}
	r.recent = append(r.recent, now)
	return true
}
