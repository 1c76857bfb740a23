// Package limiter implements token-bucket rate limiting keyed by actor, with
// an in-process store and a Redis store for multi-instance deployments.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy defines the sustained rate and burst for one actor.
type Policy struct {
	RPM   int
	Burst int
}

func (p Policy) ratePerSecond() float64 {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	return rate
}

func (p Policy) capacity() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow consumes cost tokens from actorID's bucket and reports whether
	// the request may proceed.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// TokenBucket is a thread-safe token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return newTokenBucket(ratePerSec, capacity, time.Now)
}

func newTokenBucket(ratePerSec float64, capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: now(),
		now:        now,
	}
}

func (tb *TokenBucket) Allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// Check returns an error when actorID has exhausted its bucket.
func Check(ctx context.Context, store Store, actorID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("limiter: no store configured")
	}
	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("limiter check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("limiter: rate limit exceeded for %s", actorID)
	}
	return nil
}

// InMemoryStore keeps buckets in process memory, for single-instance
// deployments and tests.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	tb, exists := s.buckets[actorID]
	if !exists {
		tb = newTokenBucket(policy.ratePerSecond(), policy.capacity(), s.now)
		s.buckets[actorID] = tb
	}
	s.mu.Unlock()

	return tb.Allow(cost), nil
}
