package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// OrderRefresher refreshes non-terminal fulfillment orders.
type OrderRefresher interface {
	RefreshOpenOrders(ctx context.Context, limit int) (int, error)
}

// Poller periodically refreshes open fulfillment orders from their
// providers so status and tracking changes reach sellers as webhooks.
//
// For multi-instance deployments, configure a DistributedLock so only one
// instance polls per cycle.
type Poller struct {
	refresher OrderRefresher
	lock      driven.DistributedLock
	logger    *slog.Logger

	interval  time.Duration
	batchSize int
	lockTTL   time.Duration

	// Internal state
	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	lastRun   time.Time
	lastError string
}

// PollerConfig holds configuration for the poller.
type PollerConfig struct {
	Refresher OrderRefresher
	Lock      driven.DistributedLock // Optional: elects one poller across instances
	Logger    *slog.Logger
	Interval  time.Duration // How often to poll (default: 5m)
	BatchSize int           // Orders per cycle (default: 200)
	LockTTL   time.Duration // TTL for the poller lock (default: 2x interval)
}

// NewPoller creates a new fulfillment status poller.
func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}

	return &Poller{
		refresher: cfg.Refresher,
		lock:      cfg.Lock,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		lockTTL:   lockTTL,
	}
}

// Start begins the polling loop.
// It runs until Stop is called or context is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("poller starting",
		"interval", p.interval,
		"batch_size", p.batchSize,
	)

	go p.run(ctx)
	return nil
}

// Stop gracefully stops the poller, waiting for an in-progress cycle.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run immediately on start
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller context cancelled")
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one refresh cycle if this instance holds the poller lock.
func (p *Poller) poll(ctx context.Context) {
	if p.lock != nil {
		acquired, err := p.lock.Acquire(ctx, driven.PollerLockName, p.lockTTL)
		if err != nil {
			p.logger.Warn("failed to acquire poller lock", "error", err)
			return
		}
		if !acquired {
			p.logger.Debug("poller lock held by another instance, skipping cycle")
			return
		}
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx), driven.PollerLockName); err != nil {
				p.logger.Warn("failed to release poller lock", "error", err)
			}
		}()
		stop := p.keepLock(ctx)
		defer stop()
	}

	start := time.Now()
	changed, err := p.refresher.RefreshOpenOrders(ctx, p.batchSize)

	p.mu.Lock()
	p.lastRun = start
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("poll cycle failed", "error", err)
		return
	}
	p.logger.Info("poll cycle completed",
		"changed", changed,
		"duration", time.Since(start),
	)
}

// keepLock extends the poller lock every half TTL until the returned
// function is called, so a slow cycle keeps its leadership.
func (p *Poller) keepLock(ctx context.Context) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.lock.Extend(ctx, driven.PollerLockName, p.lockTTL); err != nil {
					p.logger.Warn("failed to extend poller lock", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Health reports the poller's state.
type Health struct {
	Running   bool       `json:"running"`
	LockOK    bool       `json:"lock_ok"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Health returns the health status of the poller.
func (p *Poller) Health(ctx context.Context) Health {
	p.mu.RLock()
	health := Health{
		Running:   p.running,
		LastError: p.lastError,
	}
	if !p.lastRun.IsZero() {
		lastRun := p.lastRun
		health.LastRun = &lastRun
	}
	p.mu.RUnlock()

	health.LockOK = true
	if p.lock != nil {
		if err := p.lock.Ping(ctx); err != nil {
			health.LockOK = false
			if health.LastError == "" {
				health.LastError = err.Error()
			}
		}
	}
	return health
}
