package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheBackend = (*Cache)(nil)

const (
	cacheEntryPrefix = keyPrefix + "cache:"
	cacheTagPrefix   = keyPrefix + "cache-tag:"

	// minTagTTL keeps a tag set alive at least this long so it outlives
	// every entry it indexes.
	minTagTTL = time.Hour
)

// Cache implements driven.CacheBackend on Redis. Each entry is a plain
// key with TTL; each tag is a set of entry keys.
type Cache struct {
	client *redis.Client
}

// NewCache creates a Redis-backed response cache.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, cacheEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

// Set stores value and indexes it under tags in one transaction.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	entryKey := cacheEntryPrefix + key
	tagTTL := ttl
	if tagTTL < minTagTTL {
		tagTTL = minTagTTL
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entryKey, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, cacheTagPrefix+tag, entryKey)
		pipe.Expire(ctx, cacheTagPrefix+tag, tagTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// invalidateScript deletes every entry in the given tag sets, then the sets.
var invalidateScript = redis.NewScript(`
	local deleted = 0
	for _, tag in ipairs(KEYS) do
		local members = redis.call("smembers", tag)
		for _, member in ipairs(members) do
			deleted = deleted + redis.call("del", member)
		end
		redis.call("del", tag)
	end
	return deleted
`)

// InvalidateTags drops every entry associated with any of the tags.
func (c *Cache) InvalidateTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = cacheTagPrefix + tag
	}
	if err := invalidateScript.Run(ctx, c.client, keys).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
