package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// IntegrationService manages seller integrations (API keys, OAuth
// connections, webhook subscriptions).
type IntegrationService interface {
	// Providers lists the providers sellers can connect to.
	Providers() []domain.ProviderInfo

	// Connect creates the integration for a key, or reconnects a
	// disconnected or needs_reauth record in place.
	// Returns ErrAlreadyExists if a connected integration holds the key.
	Connect(ctx context.Context, req ConnectRequest) (*domain.IntegrationSummary, error)

	// Get returns the integration summary (no secrets).
	Get(ctx context.Context, key domain.IntegrationKey) (*domain.IntegrationSummary, error)

	// List returns every integration of a seller.
	List(ctx context.Context, sellerID string) ([]*domain.IntegrationSummary, error)

	// UpdateIntegrationConfig changes description, webhook or credentials.
	// With ExpectedLastUpdated set, a concurrent modification yields ErrConflict.
	UpdateIntegrationConfig(ctx context.Context, key domain.IntegrationKey, req UpdateIntegrationRequest) (*domain.IntegrationSummary, error)

	// Disconnect marks the integration disconnected. Records are never deleted.
	Disconnect(ctx context.Context, key domain.IntegrationKey) error
}

// ConnectRequest connects a seller to a provider environment.
type ConnectRequest struct {
	SellerID       string                `json:"seller_id"`
	Provider       domain.ProviderName   `json:"provider"`
	Sandbox        bool                  `json:"sandbox"`
	Description    string                `json:"description,omitempty"`
	ConnectionType domain.ConnectionType `json:"connection_type,omitempty"`
	Credentials    map[string]string     `json:"credentials"`
	Webhook        *domain.WebhookConfig `json:"webhook,omitempty"`
}

// Key returns the integration key the request targets.
func (r ConnectRequest) Key() domain.IntegrationKey {
	return domain.IntegrationKey{SellerID: r.SellerID, Provider: r.Provider, Sandbox: r.Sandbox}
}

// UpdateIntegrationRequest is a partial update; nil fields are unchanged.
type UpdateIntegrationRequest struct {
	Description         *string               `json:"description,omitempty"`
	Webhook             *domain.WebhookConfig `json:"webhook,omitempty"`
	Credentials         map[string]string     `json:"credentials,omitempty"`
	ExpectedLastUpdated *time.Time            `json:"expected_last_updated,omitempty"`
}
