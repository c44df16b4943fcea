package validation

import (
	"sync"
	"time"
)

// rateLimiter enforces at most limit requests per rolling window for
// each key. The ledger of request timestamps is bounded: when more than
// maxKeys distinct keys are tracked, the key least recently touched is
// dropped wholesale.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	maxKeys int
	hits    map[string][]time.Time
	touched map[string]time.Time
	clock   func() time.Time
}

func newRateLimiter(limit int, window time.Duration, maxKeys int) *rateLimiter {
	return &rateLimiter{
		window:  window,
		limit:   limit,
		maxKeys: maxKeys,
		hits:    make(map[string][]time.Time),
		touched: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// rolling window budget. A denied attempt is not recorded.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	cutoff := now.Add(-r.window)

	recent := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.hits[key] = recent
		r.touched[key] = now
		return false
	}

	r.hits[key] = append(recent, now)
	r.touched[key] = now
	r.evictLocked()
	return true
}

// Remaining reports how many attempts are left in the current window.
func (r *rateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().Add(-r.window)
	count := 0
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= r.limit {
		return 0
	}
	return r.limit - count
}

// Reset clears the entire ledger.
func (r *rateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = make(map[string][]time.Time)
	r.touched = make(map[string]time.Time)
}

func (r *rateLimiter) evictLocked() {
	for len(r.hits) > r.maxKeys {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range r.touched {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey = k
				oldestAt = at
			}
		}
		delete(r.hits, oldestKey)
		delete(r.touched, oldestKey)
	}
}
