package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// MockFulfillmentStore is an in-memory FulfillmentStore for testing
type MockFulfillmentStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.FulfillmentOrder // key: sellerID/orderID
}

// NewMockFulfillmentStore creates a new MockFulfillmentStore
func NewMockFulfillmentStore() *MockFulfillmentStore {
	return &MockFulfillmentStore{
		orders: make(map[string]*domain.FulfillmentOrder),
	}
}

func (m *MockFulfillmentStore) Save(ctx context.Context, order *domain.FulfillmentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[order.SellerID+"/"+order.OrderID] = &o
	return nil
}

func (m *MockFulfillmentStore) Get(ctx context.Context, sellerID, orderID string) (*domain.FulfillmentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[sellerID+"/"+orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o := *order
	return &o, nil
}

func (m *MockFulfillmentStore) ListOpen(ctx context.Context, limit int) ([]*domain.FulfillmentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.FulfillmentOrder
	for _, order := range m.orders {
		if !order.Status.IsTerminal() {
			o := *order
			result = append(result, &o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored orders.
func (m *MockFulfillmentStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}
