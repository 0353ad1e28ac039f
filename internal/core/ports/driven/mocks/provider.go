package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// MockProviderAdapter is an in-memory provider. Created orders are kept by
// order ID so CreateOrder is idempotent like a real adapter.
type MockProviderAdapter struct {
	Name domain.ProviderName

	CreateOrderFn        func(ctx context.Context, order *domain.FulfillmentOrder) (*domain.FulfillmentResult, error)
	GetOrderFn           func(ctx context.Context, orderID string) (*domain.FulfillmentResult, error)
	GetInventoryLevelsFn func(ctx context.Context, skus []string) ([]domain.InventoryLevel, error)
	CreateProductFn      func(ctx context.Context, product *domain.Product) (string, error)
	UpdateProductFn      func(ctx context.Context, product *domain.Product) error
	DeleteProductFn      func(ctx context.Context, sku string) error

	mu         sync.Mutex
	orders     map[string]*domain.FulfillmentResult
	Inventory  map[string]domain.InventoryLevel
	createdIDs []string

	CreateCalls    atomic.Int32
	GetCalls       atomic.Int32
	InventoryCalls atomic.Int32
	ProductCalls   atomic.Int32
}

var (
	_ driven.ProviderAdapter = (*MockProviderAdapter)(nil)
	_ driven.ProductCatalog  = (*MockProviderAdapter)(nil)
)

// NewMockProviderAdapter creates a mock adapter for a provider
func NewMockProviderAdapter(name domain.ProviderName) *MockProviderAdapter {
	return &MockProviderAdapter{
		Name:      name,
		orders:    make(map[string]*domain.FulfillmentResult),
		Inventory: make(map[string]domain.InventoryLevel),
	}
}

func (m *MockProviderAdapter) Provider() domain.ProviderName {
	return m.Name
}

func (m *MockProviderAdapter) CreateOrder(ctx context.Context, order *domain.FulfillmentOrder) (*domain.FulfillmentResult, error) {
	m.CreateCalls.Add(1)

	m.mu.Lock()
	if existing, ok := m.orders[order.OrderID]; ok {
		m.mu.Unlock()
		r := *existing
		return &r, nil
	}
	m.mu.Unlock()

	var result *domain.FulfillmentResult
	if m.CreateOrderFn != nil {
		var err error
		result, err = m.CreateOrderFn(ctx, order)
		if err != nil {
			return nil, err
		}
	} else {
		result = &domain.FulfillmentResult{
			OrderID:       order.OrderID,
			FulfillmentID: "F-" + order.OrderID,
			Provider:      m.Name,
			Status:        domain.FulfillmentProcessing,
		}
	}

	m.mu.Lock()
	m.orders[order.OrderID] = result
	m.createdIDs = append(m.createdIDs, result.FulfillmentID)
	m.mu.Unlock()

	r := *result
	return &r, nil
}

func (m *MockProviderAdapter) GetOrder(ctx context.Context, orderID string) (*domain.FulfillmentResult, error) {
	m.GetCalls.Add(1)
	if m.GetOrderFn != nil {
		return m.GetOrderFn(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r := *result
	return &r, nil
}

func (m *MockProviderAdapter) GetInventoryLevels(ctx context.Context, skus []string) ([]domain.InventoryLevel, error) {
	m.InventoryCalls.Add(1)
	if m.GetInventoryLevelsFn != nil {
		return m.GetInventoryLevelsFn(ctx, skus)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var levels []domain.InventoryLevel
	for _, sku := range skus {
		if level, ok := m.Inventory[sku]; ok {
			levels = append(levels, level)
		}
	}
	return levels, nil
}

func (m *MockProviderAdapter) CreateProduct(ctx context.Context, product *domain.Product) (string, error) {
	m.ProductCalls.Add(1)
	if m.CreateProductFn != nil {
		return m.CreateProductFn(ctx, product)
	}
	return "P-" + product.SKU, nil
}

func (m *MockProviderAdapter) UpdateProduct(ctx context.Context, product *domain.Product) error {
	m.ProductCalls.Add(1)
	if m.UpdateProductFn != nil {
		return m.UpdateProductFn(ctx, product)
	}
	return nil
}

func (m *MockProviderAdapter) DeleteProduct(ctx context.Context, sku string) error {
	m.ProductCalls.Add(1)
	if m.DeleteProductFn != nil {
		return m.DeleteProductFn(ctx, sku)
	}
	return nil
}

// SetOrder seeds the provider's view of an order.
func (m *MockProviderAdapter) SetOrder(result *domain.FulfillmentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *result
	m.orders[result.OrderID] = &r
}

// CreatedOrders returns the provider-side IDs of orders actually created.
func (m *MockProviderAdapter) CreatedOrders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.createdIDs...)
}

// MockAdapterResolver resolves every key to a fixed set of adapters.
type MockAdapterResolver struct {
	mu        sync.Mutex
	adapters  map[domain.ProviderName]driven.ProviderAdapter
	infos     map[domain.ProviderName]domain.ProviderInfo
	ResolveFn func(key domain.IntegrationKey) (driven.ProviderAdapter, error)

	Resolves atomic.Int32
}

var _ driven.AdapterResolver = (*MockAdapterResolver)(nil)

// NewMockAdapterResolver creates an empty resolver
func NewMockAdapterResolver() *MockAdapterResolver {
	return &MockAdapterResolver{
		adapters: make(map[domain.ProviderName]driven.ProviderAdapter),
		infos:    make(map[domain.ProviderName]domain.ProviderInfo),
	}
}

// Register adds an adapter with its static info.
func (m *MockAdapterResolver) Register(info domain.ProviderInfo, adapter driven.ProviderAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[info.Name] = adapter
	m.infos[info.Name] = info
}

func (m *MockAdapterResolver) Resolve(ctx context.Context, key domain.IntegrationKey) (driven.ProviderAdapter, error) {
	m.Resolves.Add(1)
	if m.ResolveFn != nil {
		return m.ResolveFn(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	adapter, ok := m.adapters[key.Provider]
	if !ok {
		return nil, domain.ErrNotConnected
	}
	return adapter, nil
}

func (m *MockAdapterResolver) Info(provider domain.ProviderName) (domain.ProviderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[provider]
	if !ok {
		return domain.ProviderInfo{}, domain.ErrUnsupportedProvider
	}
	return info, nil
}

func (m *MockAdapterResolver) Providers() []domain.ProviderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.ProviderInfo
	for _, info := range m.infos {
		infos = append(infos, info)
	}
	return infos
}
