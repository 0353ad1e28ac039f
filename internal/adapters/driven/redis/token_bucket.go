package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RateLimiter = (*TokenBucket)(nil)

const bucketPrefix = keyPrefix + "ratelimit:"

// tokenBucketScript refills and takes one token atomically using the
// server clock. Returns {allowed, wait_ms}.
var tokenBucketScript = redis.NewScript(`
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local clock = redis.call("time")
	local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

	local data = redis.call("hmget", KEYS[1], "tokens", "ts")
	local tokens = tonumber(data[1])
	local ts = tonumber(data[2])

	if tokens == nil then
		tokens = burst
	else
		local delta = now - ts
		if delta < 0 then
			delta = 0
		end
		tokens = math.min(burst, tokens + (delta / 1000) * rate)
	end

	local allowed = 0
	local wait = 0
	if tokens >= 1 then
		allowed = 1
		tokens = tokens - 1
	else
		wait = math.ceil((1 - tokens) * 1000 / rate)
	end

	redis.call("hset", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
	redis.call("pexpire", KEYS[1], ttl)
	return {allowed, wait}
`)

// TokenBucket is a rate limiter shared by every process using the same
// Redis, so a provider's budget holds across replicas.
type TokenBucket struct {
	client  *redis.Client
	maxWait time.Duration
}

// NewTokenBucket creates a Redis token bucket limiter. maxWait bounds
// AcquireWait.
func NewTokenBucket(client *redis.Client, maxWait time.Duration) *TokenBucket {
	return &TokenBucket{client: client, maxWait: maxWait}
}

// Acquire takes one token for key. A limit with no rate is unlimited.
func (b *TokenBucket) Acquire(ctx context.Context, key string, limit domain.RateLimit, mode driven.AcquireMode) error {
	if limit.PerSecond <= 0 {
		return nil
	}
	burst := limit.Burst
	if burst < 1 {
		burst = 1
	}

	deadline := time.Now().Add(b.maxWait)
	for {
		allowed, wait, err := b.take(ctx, key, limit.PerSecond, burst)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if mode == driven.AcquireFailFast || time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: %s", domain.ErrRateLimited, key)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *TokenBucket) take(ctx context.Context, key string, rate float64, burst int) (bool, time.Duration, error) {
	res, err := tokenBucketScript.Run(ctx, b.client, []string{bucketPrefix + key},
		rate, burst, bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

// bucketTTL is long enough for an idle bucket to refill completely.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
