package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

func TestCache_SetGetInvalidate(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCache(client)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}

	if err := cache.Set(ctx, "k1", []byte("levels"), 2*time.Minute, []string{"inventory:s1/shipbob/live"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, "k2", []byte("order"), 2*time.Minute, []string{"order:s1:o1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := cache.Get(ctx, "k1")
	if err != nil || !ok || string(got) != "levels" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	if ttl := mr.TTL(cacheEntryPrefix + "k1"); ttl != 2*time.Minute {
		t.Errorf("entry TTL = %v, want 2m", ttl)
	}

	if err := cache.InvalidateTags(ctx, "inventory:s1/shipbob/live"); err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k1"); ok {
		t.Error("k1 survived invalidation of its tag")
	}
	if _, ok, _ := cache.Get(ctx, "k2"); !ok {
		t.Error("k2 was dropped by an unrelated tag")
	}
	if mr.Exists(cacheTagPrefix + "inventory:s1/shipbob/live") {
		t.Error("tag set not removed")
	}
}

func TestCache_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCache(client)
	ctx := context.Background()

	cache.Set(ctx, "k1", []byte("v"), time.Minute, nil)
	mr.FastForward(61 * time.Second)

	if _, ok, _ := cache.Get(ctx, "k1"); ok {
		t.Error("expected entry to expire")
	}
	if err := cache.InvalidateTags(ctx); err != nil {
		t.Errorf("InvalidateTags with no tags: %v", err)
	}
}

func TestPublisher_Publish(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "sync:seller-1:sync-1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := NewPublisher(client).Publish(ctx, "sync:seller-1:sync-1", []byte(`{"processed":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"processed":1}` {
			t.Errorf("payload = %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestTokenBucket_FailFast(t *testing.T) {
	client, _ := setupTestRedis(t)
	bucket := NewTokenBucket(client, time.Second)
	ctx := context.Background()
	limit := domain.RateLimit{PerSecond: 0.01, Burst: 2}

	for i := 0; i < 2; i++ {
		if err := bucket.Acquire(ctx, "shipbob:live", limit, driven.AcquireFailFast); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	err := bucket.Acquire(ctx, "shipbob:live", limit, driven.AcquireFailFast)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Buckets are per key.
	if err := bucket.Acquire(ctx, "shipbob:sandbox", limit, driven.AcquireFailFast); err != nil {
		t.Errorf("sandbox bucket: %v", err)
	}
}

func TestTokenBucket_SharedAcrossInstances(t *testing.T) {
	client, _ := setupTestRedis(t)
	a := NewTokenBucket(client, 0)
	b := NewTokenBucket(client, 0)
	ctx := context.Background()
	limit := domain.RateLimit{PerSecond: 0.01, Burst: 1}

	if err := a.Acquire(ctx, "printful:live", limit, driven.AcquireWait); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := b.Acquire(ctx, "printful:live", limit, driven.AcquireWait); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected the other instance to see an empty bucket, got %v", err)
	}
}

func TestTokenBucket_WaitsForRefill(t *testing.T) {
	client, _ := setupTestRedis(t)
	bucket := NewTokenBucket(client, 2*time.Second)
	ctx := context.Background()
	limit := domain.RateLimit{PerSecond: 20, Burst: 1}

	if err := bucket.Acquire(ctx, "shiphero:live", limit, driven.AcquireWait); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	start := time.Now()
	if err := bucket.Acquire(ctx, "shiphero:live", limit, driven.AcquireWait); err != nil {
		t.Fatalf("waiting Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, expected to wait for a refill", elapsed)
	}
}

func TestTokenBucket_Unlimited(t *testing.T) {
	client, _ := setupTestRedis(t)
	bucket := NewTokenBucket(client, 0)

	for i := 0; i < 10; i++ {
		if err := bucket.Acquire(context.Background(), "k", domain.RateLimit{}, driven.AcquireFailFast); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
}
