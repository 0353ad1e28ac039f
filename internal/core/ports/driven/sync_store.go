package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// SyncProgressStore persists batch sync progress (PostgreSQL).
// Every mutation is a single atomic statement so concurrent workers of
// one batch never lose counter updates.
type SyncProgressStore interface {
	// Create stores a new queued sync.
	Create(ctx context.Context, progress *domain.SyncProgress) error

	// Get retrieves a sync. Returns domain.ErrNotFound if none exists.
	Get(ctx context.Context, id string) (*domain.SyncProgress, error)

	// ListBySeller returns a seller's most recent syncs, newest first.
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*domain.SyncProgress, error)

	// MarkRunning moves a queued sync to running. Other states are returned unchanged.
	MarkRunning(ctx context.Context, id string, at time.Time) (*domain.SyncProgress, error)

	// RecordItem atomically increments the counters for one item and
	// appends its error while the list is below domain.MaxSyncItemErrors.
	// Terminal syncs are returned unchanged.
	RecordItem(ctx context.Context, id string, outcome domain.ItemOutcome) (*domain.SyncProgress, error)

	// RequestCancel sets the cancel flag.
	// Returns domain.ErrSyncFinished if the sync is terminal.
	RequestCancel(ctx context.Context, id string) (*domain.SyncProgress, error)

	// Finish moves the sync to a terminal status exactly once.
	// Returns domain.ErrSyncFinished if it is already terminal.
	Finish(ctx context.Context, id string, status domain.SyncStatus, errMsg string, at time.Time) (*domain.SyncProgress, error)
}
