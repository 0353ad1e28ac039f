package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure SyncProgressStore implements the interface.
var _ driven.SyncProgressStore = (*SyncProgressStore)(nil)

// SyncProgressStore implements driven.SyncProgressStore using PostgreSQL.
// Each mutation is one UPDATE guarded by the status column, so concurrent
// workers never lose counter increments and terminal rows never change.
type SyncProgressStore struct {
	db *sql.DB
}

// NewSyncProgressStore creates a new PostgreSQL-backed sync progress store.
func NewSyncProgressStore(db *sql.DB) *SyncProgressStore {
	return &SyncProgressStore{db: db}
}

const syncColumns = `
	id, seller_id, provider, sandbox, kind, status,
	total, processed, succeeded, failed, errors, errors_dropped, error,
	cancel_requested, queued_at, started_at, completed_at, updated_at`

const activeSync = `status IN ('queued', 'running')`

// Create stores a new queued sync.
func (s *SyncProgressStore) Create(ctx context.Context, p *domain.SyncProgress) error {
	query := `
		INSERT INTO sync_progress (
			id, seller_id, provider, sandbox, kind, status, total, queued_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO NOTHING
	`

	p.QueuedAt = dbTime(p.QueuedAt)
	p.UpdatedAt = p.QueuedAt
	result, err := s.db.ExecContext(ctx, query,
		p.ID, p.SellerID, p.Provider, p.Sandbox, p.Kind, p.Status, p.Total, p.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("create sync: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: sync %s", domain.ErrAlreadyExists, p.ID)
	}
	return nil
}

// Get retrieves a sync.
func (s *SyncProgressStore) Get(ctx context.Context, id string) (*domain.SyncProgress, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_progress WHERE id = $1`

	p, err := scanSync(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync: %w", err)
	}
	return p, nil
}

// ListBySeller returns a seller's most recent syncs, newest first.
func (s *SyncProgressStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*domain.SyncProgress, error) {
	query := `SELECT ` + syncColumns + `
		FROM sync_progress
		WHERE seller_id = $1
		ORDER BY queued_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list syncs: %w", err)
	}
	defer rows.Close()

	var syncs []*domain.SyncProgress
	for rows.Next() {
		p, err := scanSync(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync: %w", err)
		}
		syncs = append(syncs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate syncs: %w", err)
	}
	return syncs, nil
}

// MarkRunning moves a queued sync to running.
func (s *SyncProgressStore) MarkRunning(ctx context.Context, id string, at time.Time) (*domain.SyncProgress, error) {
	query := `
		UPDATE sync_progress SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + syncColumns

	p, err := scanSync(s.db.QueryRowContext(ctx, query, id, dbTime(at)))
	if errors.Is(err, sql.ErrNoRows) {
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mark sync running: %w", err)
	}
	return p, nil
}

// RecordItem increments the counters for one item in a single statement.
// The error list grows only while it is below domain.MaxSyncItemErrors.
func (s *SyncProgressStore) RecordItem(ctx context.Context, id string, outcome domain.ItemOutcome) (*domain.SyncProgress, error) {
	query := `
		UPDATE sync_progress SET
			processed = processed + 1,
			succeeded = succeeded + CASE WHEN $2::boolean THEN 0 ELSE 1 END,
			failed = failed + CASE WHEN $2::boolean THEN 1 ELSE 0 END,
			errors = CASE
				WHEN $2::boolean AND jsonb_array_length(errors) < $3 THEN errors || $4::jsonb
				ELSE errors END,
			errors_dropped = errors_dropped + CASE
				WHEN $2::boolean AND jsonb_array_length(errors) >= $3 THEN 1
				ELSE 0 END,
			updated_at = $5
		WHERE id = $1 AND ` + activeSync + `
		RETURNING ` + syncColumns

	failed := outcome.Err != nil
	entry := []byte("[]")
	if failed {
		var err error
		entry, err = json.Marshal([]domain.ItemError{{ItemID: outcome.ItemID, Message: outcome.Err.Error()}})
		if err != nil {
			return nil, fmt.Errorf("marshal item error: %w", err)
		}
	}

	p, err := scanSync(s.db.QueryRowContext(ctx, query, id, failed, domain.MaxSyncItemErrors, entry, dbTime(time.Now())))
	if errors.Is(err, sql.ErrNoRows) {
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("record sync item: %w", err)
	}
	return p, nil
}

// RequestCancel sets the cancel flag on an active sync.
func (s *SyncProgressStore) RequestCancel(ctx context.Context, id string) (*domain.SyncProgress, error) {
	query := `
		UPDATE sync_progress SET cancel_requested = TRUE, updated_at = $2
		WHERE id = $1 AND ` + activeSync + `
		RETURNING ` + syncColumns

	p, err := scanSync(s.db.QueryRowContext(ctx, query, id, dbTime(time.Now())))
	if errors.Is(err, sql.ErrNoRows) {
		return s.finished(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("request sync cancel: %w", err)
	}
	return p, nil
}

// Finish moves the sync to a terminal status exactly once.
func (s *SyncProgressStore) Finish(ctx context.Context, id string, status domain.SyncStatus, errMsg string, at time.Time) (*domain.SyncProgress, error) {
	query := `
		UPDATE sync_progress SET status = $2, error = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND ` + activeSync + `
		RETURNING ` + syncColumns

	p, err := scanSync(s.db.QueryRowContext(ctx, query, id, status, errMsg, dbTime(at)))
	if errors.Is(err, sql.ErrNoRows) {
		return s.finished(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finish sync: %w", err)
	}
	return p, nil
}

// finished loads a sync whose guarded update matched no row: it is either
// missing or already terminal.
func (s *SyncProgressStore) finished(ctx context.Context, id string) (*domain.SyncProgress, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, domain.ErrSyncFinished
}

func scanSync(row rowScanner) (*domain.SyncProgress, error) {
	var p domain.SyncProgress
	var errorsJSON []byte
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(
		&p.ID,
		&p.SellerID,
		&p.Provider,
		&p.Sandbox,
		&p.Kind,
		&p.Status,
		&p.Total,
		&p.Processed,
		&p.Succeeded,
		&p.Failed,
		&errorsJSON,
		&p.ErrorsDropped,
		&p.Error,
		&p.CancelRequested,
		&p.QueuedAt,
		&startedAt,
		&completedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &p.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal sync errors: %w", err)
		}
	}
	p.StartedAt = timePtr(startedAt)
	p.CompletedAt = timePtr(completedAt)
	p.QueuedAt = p.QueuedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
