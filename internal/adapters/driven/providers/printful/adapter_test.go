package printful

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "77", r.Header.Get("X-PF-Store-Id"))
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	b := NewBuilderWithConfig(Config{BaseURL: srv.URL})
	cfg, err := domain.NewProviderAdapterConfig(b.Info(), &domain.SellerIntegration{
		SellerID:    "S",
		Provider:    domain.ProviderPrintful,
		Credentials: domain.Credentials{CredentialStoreID: "77"},
	})
	require.NoError(t, err)
	adapter, err := b.Build(cfg, providers.NewStaticTokenProvider("access-1", domain.AuthMethodOAuth2))
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func testOrder() *domain.FulfillmentOrder {
	return &domain.FulfillmentOrder{
		OrderID:        "O1",
		ShippingMethod: "standard",
		Items:          []domain.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("19.5")}},
		Address:        domain.Address{Name: "Ada", Line1: "1 Way", City: "London", PostalCode: "N1", Country: "GB"},
	}
}

func TestCreateOrder(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("confirm"))

		var req createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "O1", req.ExternalID)
		assert.Equal(t, "STANDARD", req.Shipping)
		assert.Equal(t, "GB", req.Recipient.CountryCode)
		require.Len(t, req.Items, 1)
		assert.Equal(t, "19.50", req.Items[0].RetailPrice)

		_, _ = w.Write([]byte(`{"code":200,"result":{"id":501,"external_id":"O1","status":"pending"}}`))
	})

	result, err := adapter.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "501", result.FulfillmentID)
	assert.Equal(t, domain.FulfillmentProcessing, result.Status)
}

func TestCreateOrderDuplicateFetchesExisting(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"result":"Order with this External ID already exists"}`))
		case http.MethodGet:
			assert.Equal(t, "/orders/@O1", r.URL.Path)
			_, _ = w.Write([]byte(`{"code":200,"result":{"id":501,"external_id":"O1","status":"fulfilled",
				"shipments":[{"carrier":"DHL","tracking_number":"JD01","tracking_url":"https://dhl.invalid/JD01"}]}}`))
		}
	})

	result, err := adapter.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "501", result.FulfillmentID)
	assert.Equal(t, domain.FulfillmentShipped, result.Status)
	require.NotNil(t, result.Tracking)
	assert.Equal(t, "JD01", result.Tracking.Number)
}

func TestCreateOrderValidationFailure(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"result":"Recipient address is invalid"}`))
	})

	_, err := adapter.CreateOrder(context.Background(), testOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "Recipient address is invalid")
}

func TestGetOrderNotFound(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"result":"Not found"}`))
	})

	_, err := adapter.GetOrder(context.Background(), "O9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetInventoryLevels(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/warehouse/products", r.URL.Path)
		switch r.URL.Query().Get("search") {
		case "A":
			_, _ = w.Write([]byte(`{"code":200,"result":[{"id":1,"variants":[
				{"sku":"A-XL","stock_on_hand":1},
				{"sku":"A","stock_on_hand":6,"stock_available":4,"stock_committed":2}]}]}`))
		default:
			_, _ = w.Write([]byte(`{"code":200,"result":[]}`))
		}
	})

	levels, err := adapter.GetInventoryLevels(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, domain.InventoryLevel{SKU: "A", OnHand: 6, Available: 4, Committed: 2}, levels[0])
}

func TestProducts(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var body map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Contains(t, string(body["sync_variants"]), `"variant_id":4012`)
			_, _ = w.Write([]byte(`{"code":200,"result":{"id":3301,"external_id":"A"}}`))
		case http.MethodPut:
			_, _ = w.Write([]byte(`{"code":200,"result":{}}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":404,"result":"Not found"}`))
		}
	})
	ctx := context.Background()
	product := &domain.Product{SKU: "A", Name: "Tee", Price: decimal.RequireFromString("25"), VariantID: "4012"}

	id, err := adapter.CreateProduct(ctx, product)
	require.NoError(t, err)
	assert.Equal(t, "3301", id)
	require.NoError(t, adapter.UpdateProduct(ctx, product))
	require.NoError(t, adapter.DeleteProduct(ctx, "A"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST /store/products", "PUT /store/products/@A", "DELETE /store/products/@A"}, methods)
}

func TestCreateProductRequiresVariant(t *testing.T) {
	adapter := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})

	_, err := adapter.CreateProduct(context.Background(), &domain.Product{SKU: "A", VariantID: "tee-xl"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
