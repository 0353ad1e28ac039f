package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

const (
	// DefaultSyncWorkers bounds concurrent items within one batch.
	DefaultSyncWorkers = 4

	// DefaultSyncListLimit is how many syncs ListBySeller returns.
	DefaultSyncListLimit = 50
)

// ItemHandler performs the provider call for one batch item.
type ItemHandler func(ctx context.Context, item domain.SyncItem) error

// SyncChannel is the live progress channel of a sync.
func SyncChannel(sellerID, syncID string) string {
	return fmt.Sprintf("sync:%s:%s", sellerID, syncID)
}

// SyncTracker runs batch syncs on a bounded worker pool and owns their
// state machine: queued → running → completed | failed | cancelled.
//
// Item failures are recorded and the batch continues. Systemic failures
// (see domain.IsSystemic) stop new items from starting. Cancellation is
// cooperative: the flag is checked before each item starts and in-flight
// items finish.
type SyncTracker struct {
	store      driven.SyncProgressStore
	publisher  driven.Publisher
	dispatcher driven.WebhookDispatcher
	metrics    driven.MetricsSink
	workers    int
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]*atomic.Bool
}

// SyncTrackerConfig holds dependencies for SyncTracker.
type SyncTrackerConfig struct {
	Store      driven.SyncProgressStore
	Publisher  driven.Publisher         // optional
	Dispatcher driven.WebhookDispatcher // optional
	Metrics    driven.MetricsSink       // optional
	Workers    int
	Logger     *slog.Logger
}

// NewSyncTracker creates a sync tracker.
func NewSyncTracker(cfg SyncTrackerConfig) *SyncTracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultSyncWorkers
	}
	return &SyncTracker{
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		workers:    workers,
		logger:     logger,
		cancels:    make(map[string]*atomic.Bool),
	}
}

// Create persists a queued sync for the request.
func (t *SyncTracker) Create(ctx context.Context, req domain.BatchSyncRequest) (*domain.SyncProgress, error) {
	progress := domain.NewSyncProgress(req)
	if err := t.store.Create(ctx, progress); err != nil {
		return nil, fmt.Errorf("create sync: %w", err)
	}

	t.mu.Lock()
	t.cancels[progress.ID] = &atomic.Bool{}
	t.mu.Unlock()

	t.publish(ctx, progress)
	return progress, nil
}

// Get returns a sync owned by sellerID.
func (t *SyncTracker) Get(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error) {
	progress, err := t.store.Get(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if progress.SellerID != sellerID {
		return nil, domain.ErrNotFound
	}
	return progress, nil
}

// List returns a seller's recent syncs, newest first.
func (t *SyncTracker) List(ctx context.Context, sellerID string) ([]*domain.SyncProgress, error) {
	return t.store.ListBySeller(ctx, sellerID, DefaultSyncListLimit)
}

// Cancel requests cooperative cancellation.
// Returns domain.ErrSyncFinished if the sync is already terminal.
func (t *SyncTracker) Cancel(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error) {
	if _, err := t.Get(ctx, sellerID, syncID); err != nil {
		return nil, err
	}

	progress, err := t.store.RequestCancel(ctx, syncID)
	if err != nil {
		return progress, err
	}
	t.mu.Lock()
	if f, ok := t.cancels[syncID]; ok {
		f.Store(true)
	}
	t.mu.Unlock()

	t.logger.Info("sync cancellation requested", "sync_id", syncID, "seller_id", sellerID)
	t.publish(ctx, progress)
	return progress, nil
}

// Run processes items with handle and drives the sync to a terminal state.
// It blocks until every started item has finished and returns the final
// progress.
func (t *SyncTracker) Run(ctx context.Context, progress *domain.SyncProgress, items []domain.SyncItem, handle ItemHandler) *domain.SyncProgress {
	id := progress.ID
	cancelled := t.flag(id)
	defer t.forget(id)

	startTime := time.Now()
	t.logger.Info("starting sync",
		"sync_id", id,
		"seller_id", progress.SellerID,
		"provider", progress.Provider,
		"kind", progress.Kind,
		"total", len(items),
	)

	var (
		halted      atomic.Bool
		systemicMu  sync.Mutex
		systemicErr error
		startOnce   sync.Once
		wg          sync.WaitGroup
	)

	markRunning := func() {
		startOnce.Do(func() {
			updated, err := t.store.MarkRunning(ctx, id, time.Now().UTC())
			if err != nil {
				t.logger.Warn("failed to mark sync running", "sync_id", id, "error", err)
				return
			}
			t.publish(ctx, updated)
		})
	}

	stopped := func() bool {
		return cancelled.Load() || halted.Load() || ctx.Err() != nil
	}

	jobs := make(chan domain.SyncItem)
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if stopped() {
					continue
				}
				markRunning()

				err := handle(ctx, item)
				if err != nil && domain.IsSystemic(err) {
					systemicMu.Lock()
					if systemicErr == nil {
						systemicErr = err
					}
					systemicMu.Unlock()
					halted.Store(true)
				}
				t.record(ctx, id, domain.ItemOutcome{ItemID: item.ID, Err: err}, cancelled)
			}
		}()
	}

feed:
	for _, item := range items {
		if stopped() {
			break
		}
		select {
		case jobs <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if len(items) == 0 && !cancelled.Load() {
		markRunning()
	}

	// Persist the terminal state even if ctx was cancelled by shutdown.
	finishCtx := context.WithoutCancel(ctx)
	current, err := t.store.Get(finishCtx, id)
	if err != nil {
		current = progress
	}

	status := current.Outcome()
	var errMsg string
	switch {
	case cancelled.Load() || current.CancelRequested:
		status = domain.SyncStatusCancelled
	case systemicErr != nil:
		status = domain.SyncStatusFailed
		errMsg = systemicErr.Error()
	case ctx.Err() != nil:
		status = domain.SyncStatusFailed
		errMsg = fmt.Sprintf("sync interrupted: %v", ctx.Err())
	}

	final, err := t.store.Finish(finishCtx, id, status, errMsg, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, domain.ErrSyncFinished) {
			t.logger.Error("failed to finish sync", "sync_id", id, "error", err)
		}
		if final == nil {
			final = current
		}
		return final
	}

	t.logger.Info("sync finished",
		"sync_id", id,
		"status", final.Status,
		"processed", final.Processed,
		"succeeded", final.Succeeded,
		"failed", final.Failed,
		"duration_seconds", time.Since(startTime).Seconds(),
	)
	if t.metrics != nil {
		t.metrics.RecordMetric(driven.MetricSyncsTotal, 1, map[string]string{
			"provider": string(final.Provider),
			"kind":     string(final.Kind),
			"status":   string(final.Status),
		})
	}

	t.publish(finishCtx, final)
	if t.dispatcher != nil {
		t.dispatcher.Dispatch(finishCtx, final.Key(), domain.SyncEventType(final.Status), final)
		if errors.Is(systemicErr, domain.ErrReauthRequired) {
			t.dispatcher.Dispatch(finishCtx, final.Key(), domain.EventReauthRequired, map[string]string{
				"sync_id": id,
				"error":   errMsg,
			})
		}
	}
	return final
}

func (t *SyncTracker) record(ctx context.Context, id string, outcome domain.ItemOutcome, cancelled *atomic.Bool) {
	result := "succeeded"
	if outcome.Err != nil {
		result = "failed"
		t.logger.Warn("sync item failed",
			"sync_id", id,
			"item_id", outcome.ItemID,
			"error", outcome.Err,
		)
	}

	progress, err := t.store.RecordItem(context.WithoutCancel(ctx), id, outcome)
	if err != nil {
		t.logger.Error("failed to record sync item", "sync_id", id, "item_id", outcome.ItemID, "error", err)
		return
	}
	// A cancel requested through another instance only reaches us here.
	if progress.CancelRequested {
		cancelled.Store(true)
	}

	if t.metrics != nil {
		t.metrics.RecordMetric(driven.MetricSyncItemsTotal, 1, map[string]string{
			"provider": string(progress.Provider),
			"kind":     string(progress.Kind),
			"result":   result,
		})
	}
	t.publish(ctx, progress)
}

// publish pushes progress to the live channel. Delivery is at-most-once.
func (t *SyncTracker) publish(ctx context.Context, progress *domain.SyncProgress) {
	if t.publisher == nil {
		return
	}
	payload, err := json.Marshal(progress)
	if err != nil {
		return
	}
	if err := t.publisher.Publish(context.WithoutCancel(ctx), SyncChannel(progress.SellerID, progress.ID), payload); err != nil {
		t.logger.Debug("failed to publish sync progress", "sync_id", progress.ID, "error", err)
	}
}

func (t *SyncTracker) flag(id string) *atomic.Bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.cancels[id]
	if !ok {
		f = &atomic.Bool{}
		t.cancels[id] = f
	}
	return f
}

func (t *SyncTracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, id)
}
