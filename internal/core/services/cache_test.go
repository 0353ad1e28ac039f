package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven/mocks"
)

func TestCacheManager_KeyNormalizesBody(t *testing.T) {
	c := NewCacheManager(CacheManagerConfig{})

	a, err := c.Key(testKey, "inventory.levels", map[string]any{"b": 1, "a": []string{"x"}})
	require.NoError(t, err)
	b, err := c.Key(testKey, "inventory.levels", map[string]any{"a": []string{"x"}, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := testKey
	other.SellerID = "seller-2"
	c2, err := c.Key(other, "inventory.levels", map[string]any{"a": []string{"x"}, "b": 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, c2, "sellers must not share cache entries")

	d, err := c.Key(testKey, "orders.get", map[string]any{"a": []string{"x"}, "b": 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "endpoints must not share cache entries")
}

func TestCachedRead_HitMissAndInvalidate(t *testing.T) {
	backend := mocks.NewMockCacheBackend()
	metrics := mocks.NewMockMetricsSink()
	c := NewCacheManager(CacheManagerConfig{Backend: backend, Metrics: metrics})
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context) ([]domain.InventoryLevel, error) {
		calls++
		return []domain.InventoryLevel{{SKU: "A", OnHand: calls}}, nil
	}
	tags := []string{InventoryTag(testKey)}

	first, err := cachedRead(ctx, c, testKey, "inventory.levels", []string{"A"}, tags, load)
	require.NoError(t, err)
	second, err := cachedRead(ctx, c, testKey, "inventory.levels", []string{"A"}, tags, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, metrics.Count(driven.MetricCacheTotal))

	c.Invalidate(ctx, InventoryTag(testKey))
	third, err := cachedRead(ctx, c, testKey, "inventory.levels", []string{"A"}, tags, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, third[0].OnHand)
}

func TestCachedRead_ErrorsNotCached(t *testing.T) {
	backend := mocks.NewMockCacheBackend()
	c := NewCacheManager(CacheManagerConfig{Backend: backend})
	boom := errors.New("boom")

	_, err := cachedRead(context.Background(), c, testKey, "orders.get", nil, nil, func(ctx context.Context) (*domain.FulfillmentResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Len())
}

func TestCachedRead_NilManagerPassesThrough(t *testing.T) {
	var c *CacheManager
	got, err := cachedRead(context.Background(), c, testKey, "orders.get", nil, nil, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	c.Invalidate(context.Background(), "order:x")
}

func TestTags(t *testing.T) {
	assert.Equal(t, "order:seller-1:order-9", OrderTag("seller-1", "order-9"))
	assert.Equal(t, "inventory:seller-1/printful/live", InventoryTag(testKey))
}
