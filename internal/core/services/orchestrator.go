package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driving"
)

// Ensure Orchestrator implements OrchestrationService
var _ driving.OrchestrationService = (*Orchestrator)(nil)

// Orchestrator executes fulfillment, inventory and batch operations against
// whichever provider a seller has connected. It never references a concrete
// provider: adapters come from the resolver per call.
//
// Webhooks and batch runs happen in the background; Shutdown waits for them.
type Orchestrator struct {
	resolver     driven.AdapterResolver
	fulfillments driven.FulfillmentStore
	limiter      driven.RateLimiter
	cache        *CacheManager
	tracker      *SyncTracker
	dispatcher   driven.WebhookDispatcher
	metrics      driven.MetricsSink
	validate     *validator.Validate
	logger       *slog.Logger

	creates singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OrchestratorConfig holds dependencies for Orchestrator.
type OrchestratorConfig struct {
	Resolver     driven.AdapterResolver
	Fulfillments driven.FulfillmentStore
	Syncs        driven.SyncProgressStore
	Limiter      driven.RateLimiter       // optional
	Cache        *CacheManager            // optional
	Publisher    driven.Publisher         // optional
	Dispatcher   driven.WebhookDispatcher // optional
	Metrics      driven.MetricsSink       // optional
	SyncWorkers  int
	Logger       *slog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = nopDispatcher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		resolver:     cfg.Resolver,
		fulfillments: cfg.Fulfillments,
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		dispatcher:   dispatcher,
		metrics:      metrics,
		validate:     newValidator(),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	o.tracker = NewSyncTracker(SyncTrackerConfig{
		Store:      cfg.Syncs,
		Publisher:  cfg.Publisher,
		Dispatcher: asyncDispatcher{o},
		Metrics:    metrics,
		Workers:    cfg.SyncWorkers,
		Logger:     logger,
	})
	return o
}

// CreateFulfillmentOrder validates the request, dispatches it to the
// provider and persists the result. A second call with the same order ID
// returns the stored order without another provider call unless the
// earlier attempt failed.
func (o *Orchestrator) CreateFulfillmentOrder(ctx context.Context, key domain.IntegrationKey, req domain.FulfillmentRequest) (*domain.FulfillmentOrder, error) {
	start := time.Now()

	// Duplicates share one dispatch that no single caller can cancel;
	// each caller stops waiting when its own context ends.
	results := o.creates.DoChan(key.SellerID+"/"+req.OrderID, func() (any, error) {
		return o.createFulfillmentOrder(context.WithoutCancel(ctx), key, req)
	})

	var res singleflight.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	o.observe("create_order", key, start, res.Err)
	if res.Err != nil {
		return nil, res.Err
	}
	order := *res.Val.(*domain.FulfillmentOrder)
	return &order, nil
}

func (o *Orchestrator) createFulfillmentOrder(ctx context.Context, key domain.IntegrationKey, req domain.FulfillmentRequest) (*domain.FulfillmentOrder, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, toValidationError(err)
	}

	existing, err := o.fulfillments.Get(ctx, key.SellerID, req.OrderID)
	switch {
	case err == nil && existing.Status != domain.FulfillmentFailed:
		if existing.Key() != key {
			return nil, fmt.Errorf("%w: order %s was dispatched to %s", domain.ErrConflict, req.OrderID, existing.Key())
		}
		o.logger.Debug("order already dispatched", "seller_id", key.SellerID, "order_id", req.OrderID)
		return existing, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load order: %w", err)
	}

	info, err := o.capable(key.Provider, domain.CapabilityOrders)
	if err != nil {
		return nil, err
	}
	adapter, err := o.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := o.acquire(ctx, info, key, driven.AcquireFailFast); err != nil {
		return nil, err
	}

	order := domain.NewFulfillmentOrder(key, req)
	if existing != nil {
		order.CreatedAt = existing.CreatedAt
	}

	result, err := adapter.CreateOrder(ctx, order)
	saveCtx := context.WithoutCancel(ctx)
	if err != nil {
		order.Status = domain.FulfillmentFailed
		order.Error = err.Error()
		order.UpdatedAt = time.Now().UTC()
		if saveErr := o.fulfillments.Save(saveCtx, order); saveErr != nil {
			o.logger.Error("failed to save failed order", "order_id", order.OrderID, "error", saveErr)
		}
		o.cache.Invalidate(saveCtx, OrderTag(key.SellerID, order.OrderID))
		o.dispatch(key, domain.EventFulfillmentFailed, order)
		return nil, fmt.Errorf("create order %s: %w", req.OrderID, err)
	}

	order.Apply(result)
	if err := o.fulfillments.Save(saveCtx, order); err != nil {
		return nil, fmt.Errorf("save order %s: %w", order.OrderID, err)
	}
	o.cache.Invalidate(saveCtx, OrderTag(key.SellerID, order.OrderID), InventoryTag(key))

	o.logger.Info("order dispatched",
		"seller_id", key.SellerID,
		"provider", key.Provider,
		"order_id", order.OrderID,
		"fulfillment_id", order.FulfillmentID,
		"status", order.Status,
	)
	o.dispatch(key, domain.EventFulfillmentCreated, order)
	return order, nil
}

// GetFulfillmentOrder returns the stored order.
func (o *Orchestrator) GetFulfillmentOrder(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error) {
	return o.fulfillments.Get(ctx, sellerID, orderID)
}

// RefreshFulfillmentOrder polls the provider for the order's current state.
// Terminal orders are returned as stored.
func (o *Orchestrator) RefreshFulfillmentOrder(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error) {
	order, err := o.fulfillments.Get(ctx, sellerID, orderID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	_, err = o.refreshOrder(ctx, newCallScope(o.resolver), order)
	o.observe("refresh_order", order.Key(), start, err)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RefreshOpenOrders refreshes up to limit non-terminal orders and returns
// how many changed. Failures are logged per order and do not stop the pass.
func (o *Orchestrator) RefreshOpenOrders(ctx context.Context, limit int) (int, error) {
	orders, err := o.fulfillments.ListOpen(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}

	scope := newCallScope(o.resolver)
	changed := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		start := time.Now()
		updated, err := o.refreshOrder(ctx, scope, order)
		o.observe("refresh_order", order.Key(), start, err)
		if err != nil {
			o.logger.Warn("failed to refresh order",
				"seller_id", order.SellerID,
				"order_id", order.OrderID,
				"error", err,
			)
			continue
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

func (o *Orchestrator) refreshOrder(ctx context.Context, scope *callScope, order *domain.FulfillmentOrder) (bool, error) {
	if order.Status.IsTerminal() {
		return false, nil
	}
	key := order.Key()
	info, err := o.capable(key.Provider, domain.CapabilityOrders)
	if err != nil {
		return false, err
	}
	adapter, err := scope.adapter(ctx, key)
	if err != nil {
		return false, err
	}

	body := map[string]string{"order_id": order.OrderID}
	tags := []string{OrderTag(key.SellerID, order.OrderID)}
	result, err := cachedRead(ctx, o.cache, key, "orders.get", body, tags, func(ctx context.Context) (*domain.FulfillmentResult, error) {
		if err := o.acquire(ctx, info, key, driven.AcquireWait); err != nil {
			return nil, err
		}
		return adapter.GetOrder(ctx, order.OrderID)
	})
	if err != nil {
		return false, fmt.Errorf("get order %s: %w", order.OrderID, err)
	}

	previous := order.Status
	if !order.Apply(result) {
		return false, nil
	}
	if err := o.fulfillments.Save(context.WithoutCancel(ctx), order); err != nil {
		return false, fmt.Errorf("save order %s: %w", order.OrderID, err)
	}

	o.logger.Info("order status changed",
		"seller_id", key.SellerID,
		"order_id", order.OrderID,
		"from", previous,
		"to", order.Status,
	)
	o.dispatch(key, domain.EventFulfillmentUpdated, order)
	return true, nil
}

// GetInventoryLevels returns provider stock for skus. Reads are cached per
// integration and invalidated when an order is created or a catalog sync
// item changes a product.
func (o *Orchestrator) GetInventoryLevels(ctx context.Context, key domain.IntegrationKey, skus []string) ([]domain.InventoryLevel, error) {
	start := time.Now()
	levels, err := o.getInventoryLevels(ctx, key, skus)
	o.observe("inventory_levels", key, start, err)
	return levels, err
}

func (o *Orchestrator) getInventoryLevels(ctx context.Context, key domain.IntegrationKey, skus []string) ([]domain.InventoryLevel, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	normalized, err := normalizeSKUs(skus)
	if err != nil {
		return nil, err
	}

	info, err := o.capable(key.Provider, domain.CapabilityInventory)
	if err != nil {
		return nil, err
	}
	adapter, err := o.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	return cachedRead(ctx, o.cache, key, "inventory.levels", normalized, []string{InventoryTag(key)}, func(ctx context.Context) ([]domain.InventoryLevel, error) {
		if err := o.acquire(ctx, info, key, driven.AcquireWait); err != nil {
			return nil, err
		}
		return adapter.GetInventoryLevels(ctx, normalized)
	})
}

// StartBatchSync validates the batch, checks the integration and queues
// the run. It returns as soon as the sync record exists.
func (o *Orchestrator) StartBatchSync(ctx context.Context, req domain.BatchSyncRequest) (*domain.SyncProgress, error) {
	key := req.Key()
	if err := validateKey(key); err != nil {
		return nil, err
	}
	capability, err := req.Kind.RequiredCapability()
	if err != nil {
		return nil, err
	}
	info, err := o.capable(req.Provider, capability)
	if err != nil {
		return nil, err
	}
	adapter, err := o.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	handle, err := o.itemHandler(info, key, req.Kind, adapter)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SyncItem, len(req.Items))
	for i, item := range req.Items {
		if item.ID == "" {
			item.ID = fmt.Sprintf("item-%d", i+1)
		}
		items[i] = item
	}

	progress, err := o.tracker.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.tracker.Run(o.ctx, progress, items, handle)
	}()
	return progress, nil
}

// GetSyncProgress returns a seller's sync.
func (o *Orchestrator) GetSyncProgress(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error) {
	return o.tracker.Get(ctx, sellerID, syncID)
}

// ListSyncs returns a seller's recent syncs.
func (o *Orchestrator) ListSyncs(ctx context.Context, sellerID string) ([]*domain.SyncProgress, error) {
	return o.tracker.List(ctx, sellerID)
}

// CancelSync requests cooperative cancellation of a running sync.
func (o *Orchestrator) CancelSync(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error) {
	return o.tracker.Cancel(ctx, sellerID, syncID)
}

// Shutdown waits for running batches and webhook deliveries. When ctx
// expires first, background work is cancelled and Shutdown returns once
// it has unwound.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) itemHandler(info domain.ProviderInfo, key domain.IntegrationKey, kind domain.SyncKind, adapter driven.ProviderAdapter) (ItemHandler, error) {
	acquire := func(ctx context.Context) error {
		return o.acquire(ctx, info, key, driven.AcquireWait)
	}

	if kind == domain.SyncKindInventoryReconcile {
		return func(ctx context.Context, item domain.SyncItem) error {
			if item.SKU == "" {
				return domain.NewValidationError("sku", "is required")
			}
			if err := acquire(ctx); err != nil {
				return err
			}
			levels, err := adapter.GetInventoryLevels(ctx, []string{item.SKU})
			if err != nil {
				return err
			}
			for _, level := range levels {
				if level.SKU != item.SKU {
					continue
				}
				if item.ExpectedOnHand != nil && *item.ExpectedOnHand != level.OnHand {
					return fmt.Errorf("sku %s: expected %d on hand, provider reports %d", item.SKU, *item.ExpectedOnHand, level.OnHand)
				}
				return nil
			}
			return fmt.Errorf("sku %s: %w", item.SKU, domain.ErrNotFound)
		}, nil
	}

	catalog, ok := adapter.(driven.ProductCatalog)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no product catalog", domain.ErrCapabilityUnsupported, key.Provider)
	}
	// Catalog changes can add or remove SKUs from cached inventory reads.
	changed := func(ctx context.Context, err error) error {
		if err == nil {
			o.cache.Invalidate(context.WithoutCancel(ctx), InventoryTag(key))
		}
		return err
	}

	switch kind {
	case domain.SyncKindProductImport:
		return func(ctx context.Context, item domain.SyncItem) error {
			if item.Product == nil || item.Product.SKU == "" {
				return domain.NewValidationError("product.sku", "is required")
			}
			if item.Product.Name == "" {
				return domain.NewValidationError("product.name", "is required")
			}
			if err := acquire(ctx); err != nil {
				return err
			}
			_, err := catalog.CreateProduct(ctx, item.Product)
			return changed(ctx, err)
		}, nil

	case domain.SyncKindProductUpdate:
		return func(ctx context.Context, item domain.SyncItem) error {
			if item.Product == nil || item.Product.SKU == "" {
				return domain.NewValidationError("product.sku", "is required")
			}
			if err := acquire(ctx); err != nil {
				return err
			}
			return changed(ctx, catalog.UpdateProduct(ctx, item.Product))
		}, nil

	case domain.SyncKindProductDelete:
		return func(ctx context.Context, item domain.SyncItem) error {
			sku := item.SKU
			if sku == "" && item.Product != nil {
				sku = item.Product.SKU
			}
			if sku == "" {
				return domain.NewValidationError("sku", "is required")
			}
			if err := acquire(ctx); err != nil {
				return err
			}
			return changed(ctx, catalog.DeleteProduct(ctx, sku))
		}, nil
	}
	return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown sync kind %q", kind))
}

// capable returns the provider's info if it offers capability.
func (o *Orchestrator) capable(provider domain.ProviderName, capability domain.Capability) (domain.ProviderInfo, error) {
	info, err := o.resolver.Info(provider)
	if err != nil {
		return domain.ProviderInfo{}, err
	}
	if !info.Supports(capability) {
		return domain.ProviderInfo{}, fmt.Errorf("%w: %s does not support %s", domain.ErrCapabilityUnsupported, provider, capability)
	}
	return info, nil
}

func (o *Orchestrator) acquire(ctx context.Context, info domain.ProviderInfo, key domain.IntegrationKey, mode driven.AcquireMode) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Acquire(ctx, domain.LimiterKey(key.Provider, key.Sandbox), info.RateLimit, mode)
}

// observe records the outcome of one operation.
func (o *Orchestrator) observe(operation string, key domain.IntegrationKey, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		o.metrics.RecordError(driven.ErrorContext{
			Operation: operation,
			Provider:  key.Provider,
			SellerID:  key.SellerID,
			Err:       err,
		})
		if errors.Is(err, domain.ErrRateLimited) {
			o.metrics.RecordMetric(driven.MetricRateLimitedTotal, 1, map[string]string{
				"provider": string(key.Provider),
			})
		}
		if errors.Is(err, domain.ErrReauthRequired) {
			o.dispatch(key, domain.EventReauthRequired, map[string]string{
				"operation": operation,
				"error":     err.Error(),
			})
		}
	}
	o.metrics.RecordMetric(driven.MetricOperationsTotal, 1, map[string]string{
		"operation": operation,
		"provider":  string(key.Provider),
		"result":    result,
	})
	o.metrics.RecordMetric(driven.MetricOperationSeconds, time.Since(start).Seconds(), map[string]string{
		"operation": operation,
		"provider":  string(key.Provider),
	})
}

// dispatch delivers a webhook in the background.
func (o *Orchestrator) dispatch(key domain.IntegrationKey, event domain.EventType, data any) {
	if order, ok := data.(*domain.FulfillmentOrder); ok {
		snapshot := *order
		data = &snapshot
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.dispatcher.Dispatch(o.ctx, key, event, data)
	}()
}

func normalizeSKUs(skus []string) ([]string, error) {
	if len(skus) == 0 {
		return nil, domain.NewValidationError("skus", "is required")
	}
	seen := make(map[string]struct{}, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		if sku == "" {
			return nil, domain.NewValidationError("skus", "must not contain empty values")
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	sort.Strings(out)
	return out, nil
}

// callScope caches resolved adapters for the duration of one call, so a
// pass over many orders resolves each integration once.
type callScope struct {
	resolver driven.AdapterResolver
	adapters map[domain.IntegrationKey]scopedAdapter
}

type scopedAdapter struct {
	adapter driven.ProviderAdapter
	err     error
}

func newCallScope(resolver driven.AdapterResolver) *callScope {
	return &callScope{resolver: resolver, adapters: make(map[domain.IntegrationKey]scopedAdapter)}
}

func (s *callScope) adapter(ctx context.Context, key domain.IntegrationKey) (driven.ProviderAdapter, error) {
	if cached, ok := s.adapters[key]; ok {
		return cached.adapter, cached.err
	}
	adapter, err := s.resolver.Resolve(ctx, key)
	s.adapters[key] = scopedAdapter{adapter: adapter, err: err}
	return adapter, err
}

// asyncDispatcher hands sync webhooks to the orchestrator's background group.
type asyncDispatcher struct {
	o *Orchestrator
}

func (d asyncDispatcher) Dispatch(_ context.Context, key domain.IntegrationKey, event domain.EventType, data any) {
	d.o.dispatch(key, event, data)
}

type nopMetrics struct{}

func (nopMetrics) RecordMetric(string, float64, map[string]string) {}
func (nopMetrics) RecordError(driven.ErrorContext)                 {}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, domain.IntegrationKey, domain.EventType, any) {}
