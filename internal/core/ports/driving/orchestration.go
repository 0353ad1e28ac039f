package driving

import (
	"context"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// OrchestrationService executes provider operations on behalf of sellers.
type OrchestrationService interface {
	// CreateFulfillmentOrder validates and dispatches an order. The order
	// is persisted either way; on provider failure it is stored as failed
	// and the error is returned.
	CreateFulfillmentOrder(ctx context.Context, key domain.IntegrationKey, req domain.FulfillmentRequest) (*domain.FulfillmentOrder, error)

	// GetFulfillmentOrder returns the stored order.
	GetFulfillmentOrder(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error)

	// RefreshFulfillmentOrder polls the provider for status and tracking.
	RefreshFulfillmentOrder(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error)

	// GetInventoryLevels returns provider stock for SKUs, served from
	// cache when fresh.
	GetInventoryLevels(ctx context.Context, key domain.IntegrationKey, skus []string) ([]domain.InventoryLevel, error)

	// StartBatchSync queues a batch and returns immediately.
	StartBatchSync(ctx context.Context, req domain.BatchSyncRequest) (*domain.SyncProgress, error)

	// GetSyncProgress returns a seller's sync.
	GetSyncProgress(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error)

	// ListSyncs returns a seller's recent syncs.
	ListSyncs(ctx context.Context, sellerID string) ([]*domain.SyncProgress, error)

	// CancelSync requests cooperative cancellation.
	CancelSync(ctx context.Context, sellerID, syncID string) (*domain.SyncProgress, error)
}
