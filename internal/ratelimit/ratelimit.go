// Package ratelimit implements an in-memory, per-key token bucket used to
// throttle delivery attempts to a single recipient.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a single token bucket. Access is guarded by the owning Limiter's
// mutex, not its own.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a lazily-populated, mutex-guarded map of per-key token buckets.
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// New creates a Limiter with the given bucket capacity and refill rate
// (tokens per second). New buckets start full.
func New(capacity, refillRate float64) *Limiter {
	return &Limiter{
		capacity:   capacity,
		refillRate: refillRate,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow consumes amount tokens from key's bucket if available, refilling
// first based on elapsed time. It returns false without consuming anything
// if insufficient tokens are available.
func (l *Limiter) Allow(key string, amount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= amount {
		b.tokens -= amount
		return true
	}
	return false
}
