package shiphero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

type gqlCall struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type callLog struct {
	mu    sync.Mutex
	calls []gqlCall
}

func (l *callLog) all() []gqlCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gqlCall(nil), l.calls...)
}

// newTestAdapter serves every GraphQL request with respond.
func newTestAdapter(t *testing.T, respond func(call gqlCall) string) (driven.ProviderAdapter, *callLog) {
	t.Helper()
	log := &callLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, graphqlPath, r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		var call gqlCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		log.mu.Lock()
		log.calls = append(log.calls, call)
		log.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(call)))
	}))
	t.Cleanup(srv.Close)

	b := NewBuilderWithConfig(Config{BaseURL: srv.URL})
	cfg, err := domain.NewProviderAdapterConfig(b.Info(), &domain.SellerIntegration{SellerID: "S", Provider: domain.ProviderShipHero})
	require.NoError(t, err)
	adapter, err := b.Build(cfg, providers.NewStaticTokenProvider("access-1", domain.AuthMethodOAuth2))
	require.NoError(t, err)
	return adapter, log
}

func testOrder() *domain.FulfillmentOrder {
	return &domain.FulfillmentOrder{
		OrderID: "O1",
		Items:   []domain.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")}},
		Address: domain.Address{Name: "Grace Brewster Hopper", Line1: "1 Navy Yard", City: "Arlington", PostalCode: "22202", Country: "US"},
	}
}

const emptyOrders = `{"data":{"orders":{"data":{"edges":[]}}}}`

func TestCreateOrder(t *testing.T) {
	adapter, log := newTestAdapter(t, func(call gqlCall) string {
		if strings.Contains(call.Query, "order_create") {
			return `{"data":{"order_create":{"order":{"id":"T3JkZXI6MQ==","partner_order_id":"O1","fulfillment_status":"pending"}}}}`
		}
		return emptyOrders
	})

	result, err := adapter.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "T3JkZXI6MQ==", result.FulfillmentID)
	assert.Equal(t, domain.FulfillmentProcessing, result.Status)
	assert.Equal(t, domain.ProviderShipHero, result.Provider)

	calls := log.all()
	require.Len(t, calls, 2)
	data := calls[1].Variables["data"].(map[string]any)
	assert.Equal(t, "O1", data["partner_order_id"])
	address := data["shipping_address"].(map[string]any)
	assert.Equal(t, "Grace Brewster", address["first_name"])
	assert.Equal(t, "Hopper", address["last_name"])
	items := data["line_items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "O1-1", items[0].(map[string]any)["partner_line_item_id"])
	assert.Equal(t, "9.99", items[0].(map[string]any)["price"])
}

func TestCreateOrderReturnsExisting(t *testing.T) {
	adapter, log := newTestAdapter(t, func(call gqlCall) string {
		assert.NotContains(t, call.Query, "order_create")
		return `{"data":{"orders":{"data":{"edges":[{"node":{"id":"X1","partner_order_id":"O1","fulfillment_status":"fulfilled",
			"shipments":[{"shipping_labels":[{"carrier":"UPS","tracking_number":"1Z999","tracking_url":"https://ups.invalid/1Z999"}]}]}}]}}}}`
	})

	result, err := adapter.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "X1", result.FulfillmentID)
	assert.Equal(t, domain.FulfillmentShipped, result.Status)
	require.NotNil(t, result.Tracking)
	assert.Equal(t, "1Z999", result.Tracking.Number)
	assert.Len(t, log.all(), 1)
}

func TestGetOrderNotFound(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(gqlCall) string { return emptyOrders })

	_, err := adapter.GetOrder(context.Background(), "O404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGraphQLErrors(t *testing.T) {
	t.Run("coded", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(gqlCall) string {
			return `{"errors":[{"message":"throttled","code":429}]}`
		})
		_, err := adapter.GetOrder(context.Background(), "O1")
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Contains(t, err.Error(), "throttled")
	})

	t.Run("uncoded", func(t *testing.T) {
		adapter, _ := newTestAdapter(t, func(gqlCall) string {
			return `{"errors":[{"message":"bad sku"},{"message":"bad address"}]}`
		})
		_, err := adapter.CreateOrder(context.Background(), testOrder())
		assert.ErrorIs(t, err, domain.ErrProviderError)
		assert.Contains(t, err.Error(), "status 422")
		assert.Contains(t, err.Error(), "bad sku; bad address")
	})
}

func TestGetInventoryLevels(t *testing.T) {
	adapter, log := newTestAdapter(t, func(gqlCall) string {
		return `{"data":{
			"p0":{"data":{"sku":"A","warehouse_products":[{"on_hand":5,"available":4,"allocated":1},{"on_hand":3,"available":3,"allocated":0}]}},
			"p1":{"data":null}
		}}`
	})

	levels, err := adapter.GetInventoryLevels(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, domain.InventoryLevel{SKU: "A", OnHand: 8, Available: 7, Committed: 1}, levels[0])

	calls := log.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "A", calls[0].Variables["s0"])
	assert.Equal(t, "B", calls[0].Variables["s1"])
	assert.Contains(t, calls[0].Query, "p1: product(sku: $s1)")
}

func TestSandboxUnavailable(t *testing.T) {
	_, err := domain.NewProviderAdapterConfig(NewBuilder().Info(), &domain.SellerIntegration{Provider: domain.ProviderShipHero, Sandbox: true})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Cher ")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)

	first, last = splitName("Ada King Lovelace")
	assert.Equal(t, "Ada King", first)
	assert.Equal(t, "Lovelace", last)
}
