package driven

import (
	"context"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// ProviderAdapter is the normalized interface every provider implements.
// Adapters never retry on their own; the only repeated request is a single
// resend after an OAuth token was refreshed.
type ProviderAdapter interface {
	// Provider returns the provider name.
	Provider() domain.ProviderName

	// CreateOrder submits an order. It is idempotent on order.OrderID:
	// a second call for the same order returns the existing fulfillment.
	CreateOrder(ctx context.Context, order *domain.FulfillmentOrder) (*domain.FulfillmentResult, error)

	// GetOrder fetches the provider's view of an order by platform order ID.
	// Returns domain.ErrNotFound if the provider has no such order.
	GetOrder(ctx context.Context, orderID string) (*domain.FulfillmentResult, error)

	// GetInventoryLevels returns stock for the requested SKUs. SKUs unknown
	// to the provider are omitted from the result.
	GetInventoryLevels(ctx context.Context, skus []string) ([]domain.InventoryLevel, error)
}

// ProductCatalog is implemented by adapters for providers that host a
// product catalog (dropshipping sources).
type ProductCatalog interface {
	CreateProduct(ctx context.Context, product *domain.Product) (externalID string, err error)
	UpdateProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, sku string) error
}

// AdapterBuilder creates adapters for one provider.
type AdapterBuilder interface {
	// Info returns the provider's static description.
	Info() domain.ProviderInfo

	// Build creates an adapter bound to one integration. It must not
	// perform network calls.
	Build(cfg domain.ProviderAdapterConfig, tokens TokenProvider) (ProviderAdapter, error)
}

// AdapterResolver maps an integration key to a ready-to-use adapter.
type AdapterResolver interface {
	// Resolve loads and decrypts the integration and builds its adapter.
	// Fails with domain.ErrNotConnected or domain.ErrCredentialsUnavailable.
	Resolve(ctx context.Context, key domain.IntegrationKey) (ProviderAdapter, error)

	// Info returns the static description of a registered provider.
	Info(provider domain.ProviderName) (domain.ProviderInfo, error)

	// Providers lists registered providers.
	Providers() []domain.ProviderInfo
}
