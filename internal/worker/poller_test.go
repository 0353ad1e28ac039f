package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven/mocks"
)

type mockRefresher struct {
	calls  atomic.Int32
	limits []int
	mu     sync.Mutex
	err    error
	block  chan struct{}
}

func (m *mockRefresher) RefreshOpenOrders(ctx context.Context, limit int) (int, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
		}
	}
	return 1, m.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(PollerConfig{Refresher: &mockRefresher{}})

	if p.interval != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", p.interval)
	}
	if p.batchSize != 200 {
		t.Errorf("batchSize = %d, want 200", p.batchSize)
	}
	if p.lockTTL != 10*time.Minute {
		t.Errorf("lockTTL = %v, want 10m", p.lockTTL)
	}
}

func TestPoller_PollsImmediatelyAndOnInterval(t *testing.T) {
	refresher := &mockRefresher{}
	p := NewPoller(PollerConfig{Refresher: refresher, Interval: 20 * time.Millisecond, BatchSize: 7})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return refresher.calls.Load() >= 2 })
	p.Stop()

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	if refresher.limits[0] != 7 {
		t.Errorf("limit = %d, want 7", refresher.limits[0])
	}
}

func TestPoller_StartTwiceIsNoop(t *testing.T) {
	p := NewPoller(PollerConfig{Refresher: &mockRefresher{}, Interval: time.Hour})
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	p.Stop()
	p.Stop()

	if p.Health(ctx).Running {
		t.Error("expected poller to be stopped")
	}
}

func TestPoller_OnlyLockHolderPolls(t *testing.T) {
	table := mocks.NewLockTable()
	lockA := mocks.NewMockDistributedLockOn(table, "instance-a")
	lockB := mocks.NewMockDistributedLockOn(table, "instance-b")

	release := make(chan struct{})
	refresherA := &mockRefresher{block: release}
	refresherB := &mockRefresher{}

	a := NewPoller(PollerConfig{Refresher: refresherA, Lock: lockA, Interval: time.Hour})
	b := NewPoller(PollerConfig{Refresher: refresherB, Lock: lockB, Interval: time.Hour})
	ctx := context.Background()

	// A holds the lock while its cycle is blocked.
	go a.poll(ctx)
	waitFor(t, func() bool { return lockA.IsHeld(driven.PollerLockName) })

	b.poll(ctx)
	if refresherB.calls.Load() != 0 {
		t.Error("instance b polled while a held the lock")
	}

	close(release)
	waitFor(t, func() bool { return !lockA.IsHeld(driven.PollerLockName) })

	b.poll(ctx)
	if lockB.Acquisitions(driven.PollerLockName) != 2 {
		t.Errorf("acquisitions = %d, want 2", lockB.Acquisitions(driven.PollerLockName))
	}
	if refresherB.calls.Load() != 1 {
		t.Errorf("instance b calls = %d, want 1", refresherB.calls.Load())
	}
}

func TestPoller_SlowCycleKeepsLock(t *testing.T) {
	table := mocks.NewLockTable()
	lockA := mocks.NewMockDistributedLockOn(table, "instance-a")
	lockB := mocks.NewMockDistributedLockOn(table, "instance-b")

	release := make(chan struct{})
	refresherA := &mockRefresher{block: release}
	refresherB := &mockRefresher{}

	ttl := 100 * time.Millisecond
	a := NewPoller(PollerConfig{Refresher: refresherA, Lock: lockA, Interval: time.Hour, LockTTL: ttl})
	b := NewPoller(PollerConfig{Refresher: refresherB, Lock: lockB, Interval: time.Hour, LockTTL: ttl})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		a.poll(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return lockA.IsHeld(driven.PollerLockName) })

	// Well past the original TTL, A still holds the lock.
	time.Sleep(3 * ttl)
	b.poll(ctx)
	if refresherB.calls.Load() != 0 {
		t.Error("instance b polled while a was still refreshing")
	}

	close(release)
	<-done
	if lockA.IsHeld(driven.PollerLockName) {
		t.Error("lock still held after the cycle finished")
	}
}

func TestPoller_LockErrorSkipsCycle(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("redis unavailable")
	}
	lock.PingFn = func() error { return errors.New("redis unavailable") }
	refresher := &mockRefresher{}
	p := NewPoller(PollerConfig{Refresher: refresher, Lock: lock})

	p.poll(context.Background())

	if refresher.calls.Load() != 0 {
		t.Error("expected cycle to be skipped")
	}
	health := p.Health(context.Background())
	if health.LockOK {
		t.Error("expected LockOK false")
	}
}

func TestPoller_RecordsLastError(t *testing.T) {
	refresher := &mockRefresher{err: errors.New("db down")}
	p := NewPoller(PollerConfig{Refresher: refresher})

	p.poll(context.Background())

	health := p.Health(context.Background())
	if health.LastRun == nil {
		t.Fatal("expected LastRun to be set")
	}
	if health.LastError != "db down" {
		t.Errorf("LastError = %q, want db down", health.LastError)
	}
}
