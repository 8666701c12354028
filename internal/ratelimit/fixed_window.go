// Package ratelimit provides per-client fixed-window rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

// entry tracks how many requests a client key has made in its current window.
type entry struct {
	count       int
	windowStart time.Time
}

// FixedWindowLimiter admits or denies requests per client key under a
// fixed-window counter. The window is anchored at the client's first request
// (or the first request after a reset), not aligned to wall-clock boundaries,
// so bursts straddling a boundary can reach 2x the limit in the worst case.
//
// One exclusive lock guards the whole map: every Check serializes against
// every other. Correctness over throughput; under many distinct client keys
// this is the primary contention point.
//
// Keys are never evicted, so memory grows with the number of distinct client
// keys ever seen. A TTL sweep or LRU eviction is required before exposing
// this to unbounded key populations.
type FixedWindowLimiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	window      time.Duration
	maxRequests int
}

// NewFixedWindowLimiter creates a limiter admitting at most maxRequests per
// key per window.
func NewFixedWindowLimiter(window time.Duration, maxRequests int) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		entries:     make(map[string]*entry),
		window:      window,
		maxRequests: maxRequests,
	}
}

// Check reports whether a request for the given client key is admitted.
// The first request for a key starts a window with count 1; once the window
// elapses the counter resets to 1; within the window requests are admitted
// until the counter reaches the limit.
func (l *FixedWindowLimiter) Check(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[key]
	if !exists {
		l.entries[key] = &entry{count: 1, windowStart: now}
		return true
	}

	if now.Sub(e.windowStart) > l.window {
		e.count = 1
		e.windowStart = now
		return true
	}

	if e.count < l.maxRequests {
		e.count++
		return true
	}

	return false
}

// Len returns the number of tracked client keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Window returns the configured window length.
func (l *FixedWindowLimiter) Window() time.Duration {
	return l.window
}

// MaxRequests returns the configured per-window limit.
func (l *FixedWindowLimiter) MaxRequests() int {
	return l.maxRequests
}
