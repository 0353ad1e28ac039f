package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLock_OwnerIDUnique(t *testing.T) {
	client, _ := setupTestRedis(t)

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if lock1.OwnerID() == "" {
		t.Fatal("expected non-empty owner ID")
	}
	if lock1.OwnerID() == lock2.OwnerID() {
		t.Errorf("expected unique owner IDs, got same: %s", lock1.OwnerID())
	}
}

func TestLock_AcquireContended(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client)
	b := NewLock(client)

	acquired, err := a.Acquire(ctx, "fulfillment-poller", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("Acquire = %v, %v; want true, nil", acquired, err)
	}

	acquired, err = b.Acquire(ctx, "fulfillment-poller", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if acquired {
		t.Error("second owner acquired a held lock")
	}

	// Not reentrant.
	acquired, _ = a.Acquire(ctx, "fulfillment-poller", time.Minute)
	if acquired {
		t.Error("owner re-acquired its own lock")
	}

	if got, _ := mr.Get(lockPrefix + "fulfillment-poller"); got != a.OwnerID() {
		t.Errorf("stored owner = %q, want %q", got, a.OwnerID())
	}
}

func TestLock_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client)
	b := NewLock(client)

	if ok, _ := a.Acquire(ctx, "oauth:seller-1/shiphero/live", 10*time.Second); !ok {
		t.Fatal("expected acquire")
	}
	mr.FastForward(11 * time.Second)

	if ok, _ := b.Acquire(ctx, "oauth:seller-1/shiphero/live", 10*time.Second); !ok {
		t.Error("expected acquire after expiry")
	}
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client)
	b := NewLock(client)

	a.Acquire(ctx, "job", time.Minute)

	if err := b.Release(ctx, "job"); err != nil {
		t.Fatalf("Release by other owner: %v", err)
	}
	if !mr.Exists(lockPrefix + "job") {
		t.Fatal("lock released by a different owner")
	}

	if err := a.Release(ctx, "job"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists(lockPrefix + "job") {
		t.Error("lock still present after owner release")
	}

	// Releasing again is a no-op.
	if err := a.Release(ctx, "job"); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client)
	b := NewLock(client)

	a.Acquire(ctx, "job", 5*time.Second)

	if err := a.Extend(ctx, "job", time.Minute); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if ttl := mr.TTL(lockPrefix + "job"); ttl < 50*time.Second {
		t.Errorf("TTL = %v, want about 1m", ttl)
	}
	if err := b.Extend(ctx, "job", time.Minute); err == nil {
		t.Error("expected error extending a lock held by another owner")
	}
	if err := a.Extend(ctx, "missing", time.Minute); err == nil {
		t.Error("expected error extending a lock that is not held")
	}
}

func TestLock_InvalidArguments(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client)

	if _, err := lock.Acquire(context.Background(), "", time.Minute); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := lock.Acquire(context.Background(), "job", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestLock_Ping(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client)

	if err := lock.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
