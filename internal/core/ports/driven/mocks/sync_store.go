package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// MockSyncProgressStore is an in-memory SyncProgressStore for testing.
// A single mutex gives the same atomicity as the SQL implementation.
type MockSyncProgressStore struct {
	mu    sync.Mutex
	syncs map[string]*domain.SyncProgress

	// History of statuses observed per sync, for transition assertions.
	transitions map[string][]domain.SyncStatus
}

// NewMockSyncProgressStore creates a new MockSyncProgressStore
func NewMockSyncProgressStore() *MockSyncProgressStore {
	return &MockSyncProgressStore{
		syncs:       make(map[string]*domain.SyncProgress),
		transitions: make(map[string][]domain.SyncStatus),
	}
}

func (m *MockSyncProgressStore) Create(ctx context.Context, progress *domain.SyncProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.syncs[progress.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.syncs[progress.ID] = copyProgress(progress)
	m.transitions[progress.ID] = []domain.SyncStatus{progress.Status}
	return nil
}

func (m *MockSyncProgressStore) Get(ctx context.Context, id string) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.syncs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyProgress(p), nil
}

func (m *MockSyncProgressStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.SyncProgress
	for _, p := range m.syncs {
		if p.SellerID == sellerID {
			result = append(result, copyProgress(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].QueuedAt.After(result[j].QueuedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockSyncProgressStore) MarkRunning(ctx context.Context, id string, at time.Time) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.syncs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status == domain.SyncStatusQueued {
		p.Status = domain.SyncStatusRunning
		p.StartedAt = &at
		p.UpdatedAt = at
		m.transitions[id] = append(m.transitions[id], p.Status)
	}
	return copyProgress(p), nil
}

func (m *MockSyncProgressStore) RecordItem(ctx context.Context, id string, outcome domain.ItemOutcome) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.syncs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Record(outcome)
	return copyProgress(p), nil
}

func (m *MockSyncProgressStore) RequestCancel(ctx context.Context, id string) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.syncs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status.IsTerminal() {
		return copyProgress(p), domain.ErrSyncFinished
	}
	p.CancelRequested = true
	return copyProgress(p), nil
}

func (m *MockSyncProgressStore) Finish(ctx context.Context, id string, status domain.SyncStatus, errMsg string, at time.Time) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.syncs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status.IsTerminal() {
		return copyProgress(p), domain.ErrSyncFinished
	}
	p.Status = status
	p.Error = errMsg
	p.CompletedAt = &at
	p.UpdatedAt = at
	m.transitions[id] = append(m.transitions[id], status)
	return copyProgress(p), nil
}

// Transitions returns the statuses a sync passed through.
func (m *MockSyncProgressStore) Transitions(id string) []domain.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SyncStatus(nil), m.transitions[id]...)
}

func copyProgress(in *domain.SyncProgress) *domain.SyncProgress {
	out := *in
	out.Errors = append([]domain.ItemError(nil), in.Errors...)
	return &out
}
