// Package ratelimit provides the per-client request limiter used by the HTTP
// layer: a bounded map of token buckets keyed by (client identifier, path).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default bound on tracked keys; the least recently seen entry is evicted
// when the map is full.
const defaultMaxKeys = 10000

// entry pairs a bucket with its last use for idle eviction.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a per-minute request budget per (client, path) key using
// token buckets with burst equal to the budget.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	perMinute int
	maxKeys   int
}

// NewLimiter creates a limiter with the given per-minute budget.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Limiter{
		entries:   make(map[string]*entry),
		perMinute: perMinute,
		maxKeys:   defaultMaxKeys,
	}
}

// getEntry returns or creates the bucket for the given key. Caller holds the
// lock.
func (l *Limiter) getEntry(key string) *entry {
	e, exists := l.entries[key]
	if !exists {
		if len(l.entries) >= l.maxKeys {
			l.evictOldest()
		}
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute),
		}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e
}

// Allow reports whether a request for client and path fits the budget.
func (l *Limiter) Allow(client, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getEntry(client + "|" + path).limiter.Allow()
}

// RetryAfter returns the wait until the next request for the key would be
// admitted. Zero means a request would pass now.
func (l *Limiter) RetryAfter(client, path string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.getEntry(client + "|" + path).limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	return delay
}

// SetBudget updates the per-minute budget for all tracked keys. Buckets are
// recreated rather than adjusted: SetBurst alone does not refill tokens, so a
// raised budget would otherwise not admit drained clients until refill.
func (l *Limiter) SetBudget(perMinute int) {
	if perMinute <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perMinute = perMinute
	for _, e := range l.entries {
		e.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
}

// EvictIdle drops keys unused for at least the given duration and returns how
// many were removed.
func (l *Limiter) EvictIdle(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictOldest removes the least recently seen entry. Caller holds the lock.
func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range l.entries {
		if oldestKey == "" || e.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = e.lastSeen
		}
	}
	if oldestKey != "" {
		delete(l.entries, oldestKey)
	}
}
