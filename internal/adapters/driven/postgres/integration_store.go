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

// Ensure IntegrationStore implements the interface.
var _ driven.IntegrationStore = (*IntegrationStore)(nil)

// IntegrationStore implements driven.IntegrationStore using PostgreSQL.
// It stores only the encrypted blobs; decryption is the vault's job.
type IntegrationStore struct {
	db *sql.DB
}

// NewIntegrationStore creates a new PostgreSQL-backed integration store.
func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

const integrationColumns = `
	id, seller_id, provider, sandbox, description, status, connection_type,
	encrypted_credentials, encrypted_webhook,
	webhook_last_error, webhook_failure_count, webhook_last_failure,
	history, created_at, last_updated`

// bumpLastUpdated keeps last_updated strictly increasing so optimistic
// writes never see a stale value as current.
const bumpLastUpdated = `last_updated = GREATEST(clock_timestamp(), last_updated + INTERVAL '1 microsecond')`

// Create stores a new integration. A disconnected record holding the key
// is replaced in place and keeps its history.
func (s *IntegrationStore) Create(ctx context.Context, integration *domain.SellerIntegration) error {
	query := `
		INSERT INTO seller_integrations (
			id, seller_id, provider, sandbox, description, status, connection_type,
			encrypted_credentials, encrypted_webhook, history, created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (seller_id, provider, sandbox) DO UPDATE SET
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			connection_type = EXCLUDED.connection_type,
			encrypted_credentials = EXCLUDED.encrypted_credentials,
			encrypted_webhook = EXCLUDED.encrypted_webhook,
			history = seller_integrations.history || EXCLUDED.history,
			last_updated = EXCLUDED.last_updated
		WHERE seller_integrations.status = 'disconnected'
		RETURNING id, created_at, last_updated
	`

	if integration.ID == "" {
		integration.ID = domain.NewID()
	}
	history, err := json.Marshal(nonNilHistory(integration.History))
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	now := dbTime(time.Now())

	err = s.db.QueryRowContext(ctx, query,
		integration.ID,
		integration.SellerID,
		integration.Provider,
		integration.Sandbox,
		integration.Description,
		integration.Status,
		integration.ConnectionType,
		integration.EncryptedCredentials,
		integration.EncryptedWebhook,
		history,
		now,
	).Scan(&integration.ID, &integration.CreatedAt, &integration.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, integration.Key())
	}
	if err != nil {
		return fmt.Errorf("create integration: %w", err)
	}
	integration.CreatedAt = integration.CreatedAt.UTC()
	integration.LastUpdated = integration.LastUpdated.UTC()
	return nil
}

// Get retrieves the integration for a key.
func (s *IntegrationStore) Get(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM seller_integrations
		WHERE seller_id = $1 AND provider = $2 AND sandbox = $3
	`

	integration, err := scanIntegration(s.db.QueryRowContext(ctx, query, key.SellerID, key.Provider, key.Sandbox))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return integration, nil
}

// ListBySeller returns every integration of a seller.
func (s *IntegrationStore) ListBySeller(ctx context.Context, sellerID string) ([]*domain.SellerIntegration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM seller_integrations
		WHERE seller_id = $1
		ORDER BY provider, sandbox
	`

	rows, err := s.db.QueryContext(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*domain.SellerIntegration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}
	return integrations, nil
}

// Update overwrites the mutable fields if last_updated still equals expected.
func (s *IntegrationStore) Update(ctx context.Context, integration *domain.SellerIntegration, expected time.Time, event domain.HistoryEvent) error {
	query := `
		UPDATE seller_integrations SET
			description = $5,
			status = $6,
			connection_type = $7,
			encrypted_credentials = $8,
			encrypted_webhook = $9,
			history = history || $10::jsonb,
			` + bumpLastUpdated + `
		WHERE seller_id = $1 AND provider = $2 AND sandbox = $3 AND last_updated = $4
		RETURNING last_updated
	`

	entry, err := historyEntry(event)
	if err != nil {
		return err
	}
	key := integration.Key()

	var lastUpdated time.Time
	err = s.db.QueryRowContext(ctx, query,
		key.SellerID, key.Provider, key.Sandbox, dbTime(expected),
		integration.Description,
		integration.Status,
		integration.ConnectionType,
		integration.EncryptedCredentials,
		integration.EncryptedWebhook,
		entry,
	).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return s.missOrConflict(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("update integration: %w", err)
	}

	integration.LastUpdated = lastUpdated.UTC()
	integration.History = append(integration.History, event)
	return nil
}

// UpdateCredentials replaces the credential blob with optimistic concurrency.
func (s *IntegrationStore) UpdateCredentials(ctx context.Context, key domain.IntegrationKey, encrypted []byte, expected time.Time, event domain.HistoryEvent) (time.Time, error) {
	query := `
		UPDATE seller_integrations SET
			encrypted_credentials = $5,
			history = history || $6::jsonb,
			` + bumpLastUpdated + `
		WHERE seller_id = $1 AND provider = $2 AND sandbox = $3 AND last_updated = $4
		RETURNING last_updated
	`

	entry, err := historyEntry(event)
	if err != nil {
		return time.Time{}, err
	}

	var lastUpdated time.Time
	err = s.db.QueryRowContext(ctx, query,
		key.SellerID, key.Provider, key.Sandbox, dbTime(expected),
		encrypted, entry,
	).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, s.missOrConflict(ctx, key)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("update credentials: %w", err)
	}
	return lastUpdated.UTC(), nil
}

// UpdateStatus sets the connection status and appends event to history.
func (s *IntegrationStore) UpdateStatus(ctx context.Context, key domain.IntegrationKey, status domain.ConnectionStatus, event domain.HistoryEvent) error {
	query := `
		UPDATE seller_integrations SET
			status = $4,
			history = history || $5::jsonb,
			` + bumpLastUpdated + `
		WHERE seller_id = $1 AND provider = $2 AND sandbox = $3
	`

	entry, err := historyEntry(event)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, query, key.SellerID, key.Provider, key.Sandbox, status, entry)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectOneRow(result)
}

// RecordWebhookFailure stores the last delivery error and increments the
// failure counter in one statement. last_updated is left alone so a failed
// delivery never conflicts with a concurrent config write.
func (s *IntegrationStore) RecordWebhookFailure(ctx context.Context, key domain.IntegrationKey, lastError string, at time.Time) error {
	query := `
		UPDATE seller_integrations SET
			webhook_last_error = $4,
			webhook_failure_count = webhook_failure_count + 1,
			webhook_last_failure = $5,
			history = history || $6::jsonb
		WHERE seller_id = $1 AND provider = $2 AND sandbox = $3
	`

	entry, err := historyEntry(domain.HistoryEvent{At: at, Type: domain.HistoryWebhookFailed, Detail: lastError})
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, query, key.SellerID, key.Provider, key.Sandbox, lastError, dbTime(at), entry)
	if err != nil {
		return fmt.Errorf("record webhook failure: %w", err)
	}
	return expectOneRow(result)
}

// missOrConflict distinguishes a missing record from a lost optimistic race.
func (s *IntegrationStore) missOrConflict(ctx context.Context, key domain.IntegrationKey) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM seller_integrations WHERE seller_id = $1 AND provider = $2 AND sandbox = $3)`,
		key.SellerID, key.Provider, key.Sandbox,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check integration: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s", domain.ErrConflict, key)
}

func scanIntegration(row rowScanner) (*domain.SellerIntegration, error) {
	var i domain.SellerIntegration
	var history []byte
	var lastFailure sql.NullTime

	if err := row.Scan(
		&i.ID,
		&i.SellerID,
		&i.Provider,
		&i.Sandbox,
		&i.Description,
		&i.Status,
		&i.ConnectionType,
		&i.EncryptedCredentials,
		&i.EncryptedWebhook,
		&i.WebhookLastError,
		&i.WebhookFailureCount,
		&lastFailure,
		&history,
		&i.CreatedAt,
		&i.LastUpdated,
	); err != nil {
		return nil, err
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &i.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	i.WebhookLastFailure = timePtr(lastFailure)
	i.CreatedAt = i.CreatedAt.UTC()
	i.LastUpdated = i.LastUpdated.UTC()
	return &i, nil
}

// historyEntry encodes one event as a single-element JSON array for
// appending with the jsonb || operator.
func historyEntry(event domain.HistoryEvent) ([]byte, error) {
	entry, err := json.Marshal([]domain.HistoryEvent{event})
	if err != nil {
		return nil, fmt.Errorf("marshal history event: %w", err)
	}
	return entry, nil
}

func nonNilHistory(h []domain.HistoryEvent) []domain.HistoryEvent {
	if h == nil {
		return []domain.HistoryEvent{}
	}
	return h
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
