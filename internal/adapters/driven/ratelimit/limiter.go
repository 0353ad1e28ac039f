// Package ratelimit provides an in-process token bucket per provider
// environment for single-replica deployments.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RateLimiter = (*Limiter)(nil)

// DefaultMaxWait bounds AcquireWait when no MaxWait is configured.
const DefaultMaxWait = 10 * time.Second

// Limiter implements driven.RateLimiter with golang.org/x/time/rate.
// Buckets are created lazily from the limit passed on first use.
//
// Thread Safety: Safe for concurrent use.
type Limiter struct {
	maxWait time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	acquired atomic.Int64
	rejected atomic.Int64
}

// Stats contains counters about limiter usage.
type Stats struct {
	Buckets  int
	Acquired int64
	Rejected int64
}

// New creates a limiter. maxWait bounds how long AcquireWait may block.
func New(maxWait time.Duration) *Limiter {
	if maxWait < 0 {
		maxWait = DefaultMaxWait
	}
	return &Limiter{
		maxWait: maxWait,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Acquire takes one token from the bucket for key. A limit with no rate
// is unlimited.
func (l *Limiter) Acquire(ctx context.Context, key string, limit domain.RateLimit, mode driven.AcquireMode) error {
	if limit.PerSecond <= 0 {
		return nil
	}
	bucket := l.bucket(key, limit)

	if mode == driven.AcquireFailFast {
		if !bucket.Allow() {
			return l.reject(key)
		}
		l.acquired.Add(1)
		return nil
	}

	reservation := bucket.Reserve()
	if !reservation.OK() {
		return l.reject(key)
	}
	delay := reservation.Delay()
	if delay > l.maxWait {
		reservation.Cancel()
		return l.reject(key)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			reservation.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.acquired.Add(1)
	return nil
}

// Stats returns current usage counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	buckets := len(l.buckets)
	l.mu.Unlock()
	return Stats{
		Buckets:  buckets,
		Acquired: l.acquired.Load(),
		Rejected: l.rejected.Load(),
	}
}

// bucket returns the limiter for key, adjusting it when the advertised
// limit changed since it was created.
func (l *Limiter) bucket(key string, limit domain.RateLimit) *rate.Limiter {
	burst := limit.Burst
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
		l.buckets[key] = b
		return b
	}
	if b.Limit() != rate.Limit(limit.PerSecond) {
		b.SetLimit(rate.Limit(limit.PerSecond))
	}
	if b.Burst() != burst {
		b.SetBurst(burst)
	}
	return b
}

func (l *Limiter) reject(key string) error {
	l.rejected.Add(1)
	return fmt.Errorf("%w: %s", domain.ErrRateLimited, key)
}
