package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// DefaultCacheTTL is how long provider reads are served from cache.
const DefaultCacheTTL = 2 * time.Minute

// CacheManager caches idempotent provider reads. Keys are derived from the
// integration, the logical endpoint and the normalized request body, so two
// sellers never share an entry. Backend failures are logged and treated as
// misses.
type CacheManager struct {
	backend driven.CacheBackend
	ttl     time.Duration
	metrics driven.MetricsSink
	logger  *slog.Logger
}

// CacheManagerConfig holds dependencies for CacheManager.
type CacheManagerConfig struct {
	Backend driven.CacheBackend // nil disables caching
	TTL     time.Duration
	Metrics driven.MetricsSink
	Logger  *slog.Logger
}

// NewCacheManager creates a cache manager.
func NewCacheManager(cfg CacheManagerConfig) *CacheManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheManager{backend: cfg.Backend, ttl: ttl, metrics: cfg.Metrics, logger: logger}
}

// OrderTag tags cached reads of one order.
func OrderTag(sellerID, orderID string) string {
	return fmt.Sprintf("order:%s:%s", sellerID, orderID)
}

// InventoryTag tags cached inventory reads of one integration.
func InventoryTag(key domain.IntegrationKey) string {
	return "inventory:" + key.String()
}

// Key derives the cache key for a read.
func (c *CacheManager) Key(key domain.IntegrationKey, endpoint string, body any) (string, error) {
	normalized, err := normalizeBody(body)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(key.String()))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(normalized)
	return "resp:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Invalidate drops every entry carrying one of the tags.
func (c *CacheManager) Invalidate(ctx context.Context, tags ...string) {
	if c == nil || c.backend == nil || len(tags) == 0 {
		return
	}
	if err := c.backend.InvalidateTags(ctx, tags...); err != nil {
		c.logger.Warn("cache invalidation failed", "tags", tags, "error", err)
	}
}

// cachedRead returns the cached value for (key, endpoint, body) or calls
// load and stores its result under tags. Errors from load are never cached.
func cachedRead[T any](ctx context.Context, c *CacheManager, key domain.IntegrationKey, endpoint string, body any, tags []string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.backend == nil {
		return load(ctx)
	}

	cacheKey, err := c.Key(key, endpoint, body)
	if err != nil {
		return load(ctx)
	}

	if raw, ok, err := c.backend.Get(ctx, cacheKey); err != nil {
		c.logger.Warn("cache read failed", "endpoint", endpoint, "error", err)
	} else if ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			c.record(endpoint, "hit")
			return value, nil
		}
	}
	c.record(endpoint, "miss")

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}
	if err := c.backend.Set(ctx, cacheKey, raw, c.ttl, tags); err != nil {
		c.logger.Warn("cache write failed", "endpoint", endpoint, "error", err)
	}
	return value, nil
}

func (c *CacheManager) record(endpoint, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordMetric(driven.MetricCacheTotal, 1, map[string]string{
		"endpoint": endpoint,
		"result":   result,
	})
}

// normalizeBody re-encodes body through a generic value so map keys are
// ordered and whitespace is canonical.
func normalizeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal cache body: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize cache body: %w", err)
	}
	return json.Marshal(generic)
}
