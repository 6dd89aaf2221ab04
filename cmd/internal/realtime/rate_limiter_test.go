package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d rejected below limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event above limit allowed")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	start := time.Now()

	if !rl.Allow(start) || !rl.Allow(start.Add(100*time.Millisecond)) {
		t.Fatalf("initial events rejected")
	}
	if rl.Allow(start.Add(200 * time.Millisecond)) {
		t.Fatalf("burst not limited")
	}

	// The first event ages out of the window; capacity returns.
	if !rl.Allow(start.Add(1100 * time.Millisecond)) {
		t.Fatalf("event rejected after window slid")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if !rl.Allow(time.Now()) {
		t.Fatalf("defaulted limiter rejected the first event")
	}
}
