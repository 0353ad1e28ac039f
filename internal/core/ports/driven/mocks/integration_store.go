package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// MockIntegrationStore is an in-memory IntegrationStore for testing.
// Records are copied on the way in and out so callers cannot alias them.
type MockIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[domain.IntegrationKey]*domain.SellerIntegration

	// Hooks for injecting failures (optional)
	GetFn               func(key domain.IntegrationKey) (*domain.SellerIntegration, error)
	UpdateCredentialsFn func(key domain.IntegrationKey) error

	credentialUpdates int
}

// NewMockIntegrationStore creates a new MockIntegrationStore
func NewMockIntegrationStore() *MockIntegrationStore {
	return &MockIntegrationStore{
		integrations: make(map[domain.IntegrationKey]*domain.SellerIntegration),
	}
}

func (m *MockIntegrationStore) Create(ctx context.Context, integration *domain.SellerIntegration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.integrations[integration.Key()]; ok && existing.IsActive() {
		return domain.ErrAlreadyExists
	}
	if integration.ID == "" {
		integration.ID = domain.NewID()
	}
	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}
	integration.LastUpdated = now
	m.integrations[integration.Key()] = copyIntegration(integration)
	return nil
}

func (m *MockIntegrationStore) Get(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	if m.GetFn != nil {
		return m.GetFn(key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	integration, ok := m.integrations[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyIntegration(integration), nil
}

func (m *MockIntegrationStore) ListBySeller(ctx context.Context, sellerID string) ([]*domain.SellerIntegration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.SellerIntegration
	for key, integration := range m.integrations {
		if key.SellerID == sellerID {
			result = append(result, copyIntegration(integration))
		}
	}
	return result, nil
}

func (m *MockIntegrationStore) Update(ctx context.Context, integration *domain.SellerIntegration, expected time.Time, event domain.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.integrations[integration.Key()]
	if !ok {
		return domain.ErrNotFound
	}
	if !existing.LastUpdated.Equal(expected) {
		return domain.ErrConflict
	}

	updated := copyIntegration(integration)
	updated.History = append(append([]domain.HistoryEvent(nil), existing.History...), event)
	updated.LastUpdated = nextTimestamp(existing.LastUpdated)
	m.integrations[integration.Key()] = updated

	integration.LastUpdated = updated.LastUpdated
	integration.History = updated.History
	return nil
}

func (m *MockIntegrationStore) UpdateCredentials(ctx context.Context, key domain.IntegrationKey, encrypted []byte, expected time.Time, event domain.HistoryEvent) (time.Time, error) {
	if m.UpdateCredentialsFn != nil {
		if err := m.UpdateCredentialsFn(key); err != nil {
			return time.Time{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.integrations[key]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	if !existing.LastUpdated.Equal(expected) {
		return time.Time{}, domain.ErrConflict
	}

	existing.EncryptedCredentials = append([]byte(nil), encrypted...)
	existing.History = append(existing.History, event)
	existing.LastUpdated = nextTimestamp(existing.LastUpdated)
	m.credentialUpdates++
	return existing.LastUpdated, nil
}

func (m *MockIntegrationStore) UpdateStatus(ctx context.Context, key domain.IntegrationKey, status domain.ConnectionStatus, event domain.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.integrations[key]
	if !ok {
		return domain.ErrNotFound
	}
	existing.Status = status
	existing.History = append(existing.History, event)
	existing.LastUpdated = nextTimestamp(existing.LastUpdated)
	return nil
}

func (m *MockIntegrationStore) RecordWebhookFailure(ctx context.Context, key domain.IntegrationKey, lastError string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.integrations[key]
	if !ok {
		return domain.ErrNotFound
	}
	existing.WebhookLastError = lastError
	existing.WebhookFailureCount++
	existing.WebhookLastFailure = &at
	existing.History = append(existing.History, domain.HistoryEvent{At: at, Type: domain.HistoryWebhookFailed, Detail: lastError})
	return nil
}

// Put stores a record directly (for test setup).
func (m *MockIntegrationStore) Put(integration *domain.SellerIntegration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if integration.LastUpdated.IsZero() {
		integration.LastUpdated = time.Now().UTC()
	}
	m.integrations[integration.Key()] = copyIntegration(integration)
}

// CredentialUpdates returns how many credential writes succeeded.
func (m *MockIntegrationStore) CredentialUpdates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentialUpdates
}

func copyIntegration(in *domain.SellerIntegration) *domain.SellerIntegration {
	out := *in
	out.EncryptedCredentials = append([]byte(nil), in.EncryptedCredentials...)
	out.EncryptedWebhook = append([]byte(nil), in.EncryptedWebhook...)
	out.History = append([]domain.HistoryEvent(nil), in.History...)
	if in.Credentials != nil {
		out.Credentials = in.Credentials.Clone()
	}
	if in.Webhook != nil {
		w := *in.Webhook
		out.Webhook = &w
	}
	return &out
}

func nextTimestamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (m *MockIntegrationStore) setCredentials(key domain.IntegrationKey, creds domain.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.integrations[key]; ok {
		existing.Credentials = creds.Clone()
	}
}
