package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// IntegrationStore persists seller integrations (PostgreSQL).
// Records carry only the encrypted credential and webhook blobs; the
// credential vault decrypts them.
type IntegrationStore interface {
	// Create stores a new integration.
	// Returns domain.ErrAlreadyExists if an active record holds the key.
	Create(ctx context.Context, integration *domain.SellerIntegration) error

	// Get retrieves the integration for a key.
	// Returns domain.ErrNotFound if none exists.
	Get(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error)

	// ListBySeller returns every integration of a seller.
	ListBySeller(ctx context.Context, sellerID string) ([]*domain.SellerIntegration, error)

	// Update overwrites the mutable fields if LastUpdated still equals
	// expected, appending event to history. Returns domain.ErrConflict on a
	// lost race. integration.LastUpdated is set to the new value.
	Update(ctx context.Context, integration *domain.SellerIntegration, expected time.Time, event domain.HistoryEvent) error

	// UpdateCredentials replaces the credential blob with optimistic
	// concurrency on LastUpdated and returns the new LastUpdated.
	UpdateCredentials(ctx context.Context, key domain.IntegrationKey, encrypted []byte, expected time.Time, event domain.HistoryEvent) (time.Time, error)

	// UpdateStatus sets the connection status and appends event to history.
	UpdateStatus(ctx context.Context, key domain.IntegrationKey, status domain.ConnectionStatus, event domain.HistoryEvent) error

	// RecordWebhookFailure stores the last delivery error and increments
	// the failure counter atomically.
	RecordWebhookFailure(ctx context.Context, key domain.IntegrationKey, lastError string, at time.Time) error
}
