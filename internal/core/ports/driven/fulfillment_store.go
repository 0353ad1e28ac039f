package driven

import (
	"context"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// FulfillmentStore persists fulfillment orders (PostgreSQL).
type FulfillmentStore interface {
	// Save creates or updates an order keyed by (seller, order ID).
	Save(ctx context.Context, order *domain.FulfillmentOrder) error

	// Get retrieves an order. Returns domain.ErrNotFound if none exists.
	Get(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error)

	// ListOpen returns up to limit non-terminal orders, least recently
	// updated first.
	ListOpen(ctx context.Context, limit int) ([]*domain.FulfillmentOrder, error)
}
