package shiphero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.ProviderAdapter = (*Adapter)(nil)

var statuses = map[string]domain.FulfillmentStatus{
	"pending":             domain.FulfillmentProcessing,
	"unfulfilled":         domain.FulfillmentProcessing,
	"on_hold":             domain.FulfillmentProcessing,
	"partially_fulfilled": domain.FulfillmentShipped,
	"fulfilled":           domain.FulfillmentShipped,
	"shipped":             domain.FulfillmentShipped,
	"delivered":           domain.FulfillmentDelivered,
	"canceled":            domain.FulfillmentCancelled,
	"cancelled":           domain.FulfillmentCancelled,
}

const orderFields = `id partner_order_id fulfillment_status
shipments { shipping_labels { carrier tracking_number tracking_url } }`

const findOrderQuery = `query($partnerOrderID: String) {
  orders(partner_order_id: $partnerOrderID) {
    data(first: 1) { edges { node { ` + orderFields + ` } } }
  }
}`

const createOrderMutation = `mutation($data: CreateOrderInput!) {
  order_create(data: $data) { order { ` + orderFields + ` } }
}`

// Adapter talks to the ShipHero GraphQL API with an OAuth access token.
// The platform order ID is sent as partner_order_id.
type Adapter struct {
	client *providers.Client
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type shippingLabel struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

type order struct {
	ID                string `json:"id"`
	PartnerOrderID    string `json:"partner_order_id"`
	FulfillmentStatus string `json:"fulfillment_status"`
	Shipments         []struct {
		ShippingLabels []shippingLabel `json:"shipping_labels"`
	} `json:"shipments"`
}

// Provider returns shiphero.
func (a *Adapter) Provider() domain.ProviderName {
	return domain.ProviderShipHero
}

// CreateOrder creates the order unless one with the same partner_order_id exists.
func (a *Adapter) CreateOrder(ctx context.Context, o *domain.FulfillmentOrder) (*domain.FulfillmentResult, error) {
	existing, err := a.findOrder(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return toResult(o.OrderID, existing), nil
	}

	shipping := o.ShippingMethod
	if shipping == "" {
		shipping = "standard"
	}
	first, last := splitName(o.Address.Name)
	lineItems := make([]map[string]any, 0, len(o.Items))
	for i, item := range o.Items {
		lineItems = append(lineItems, map[string]any{
			"sku":                  item.SKU,
			"partner_line_item_id": o.OrderID + "-" + strconv.Itoa(i+1),
			"quantity":             item.Quantity,
			"price":                item.UnitPrice.StringFixed(2),
			"product_name":         item.Name,
		})
	}
	data := map[string]any{
		"order_number":     o.OrderID,
		"partner_order_id": o.OrderID,
		"shipping_lines": map[string]any{
			"title":  shipping,
			"price":  "0.00",
			"method": shipping,
		},
		"shipping_address": map[string]any{
			"first_name": first,
			"last_name":  last,
			"company":    o.Address.Company,
			"address1":   o.Address.Line1,
			"address2":   o.Address.Line2,
			"city":       o.Address.City,
			"state":      o.Address.State,
			"zip":        o.Address.PostalCode,
			"country":    o.Address.Country,
			"email":      o.Address.Email,
			"phone":      o.Address.Phone,
		},
		"line_items": lineItems,
	}

	var resp struct {
		OrderCreate struct {
			Order *order `json:"order"`
		} `json:"order_create"`
	}
	if err := a.query(ctx, createOrderMutation, map[string]any{"data": data}, &resp); err != nil {
		return nil, err
	}
	if resp.OrderCreate.Order == nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderShipHero, StatusCode: http.StatusBadGateway, Message: "order_create returned no order"}
	}
	return toResult(o.OrderID, resp.OrderCreate.Order), nil
}

// GetOrder looks the order up by partner_order_id.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*domain.FulfillmentResult, error) {
	existing, err := a.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: shiphero order %s", domain.ErrNotFound, orderID)
	}
	return toResult(orderID, existing), nil
}

// GetInventoryLevels fetches every SKU in one aliased query.
func (a *Adapter) GetInventoryLevels(ctx context.Context, skus []string) ([]domain.InventoryLevel, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	var params, fields []string
	vars := make(map[string]any, len(skus))
	for i, sku := range skus {
		name := "s" + strconv.Itoa(i)
		params = append(params, "$"+name+": String")
		fields = append(fields, fmt.Sprintf(
			"p%d: product(sku: $%s) { data { sku warehouse_products { on_hand available allocated } } }", i, name))
		vars[name] = sku
	}
	q := "query(" + strings.Join(params, ", ") + ") {\n" + strings.Join(fields, "\n") + "\n}"

	type warehouseProduct struct {
		OnHand    int `json:"on_hand"`
		Available int `json:"available"`
		Allocated int `json:"allocated"`
	}
	var resp map[string]*struct {
		Data *struct {
			SKU               string             `json:"sku"`
			WarehouseProducts []warehouseProduct `json:"warehouse_products"`
		} `json:"data"`
	}
	if err := a.query(ctx, q, vars, &resp); err != nil {
		return nil, err
	}

	levels := make([]domain.InventoryLevel, 0, len(skus))
	for i, sku := range skus {
		entry := resp["p"+strconv.Itoa(i)]
		if entry == nil || entry.Data == nil {
			continue
		}
		level := domain.InventoryLevel{SKU: sku}
		for _, wp := range entry.Data.WarehouseProducts {
			level.OnHand += wp.OnHand
			level.Available += wp.Available
			level.Committed += wp.Allocated
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func (a *Adapter) findOrder(ctx context.Context, partnerOrderID string) (*order, error) {
	var resp struct {
		Orders struct {
			Data struct {
				Edges []struct {
					Node order `json:"node"`
				} `json:"edges"`
			} `json:"data"`
		} `json:"orders"`
	}
	if err := a.query(ctx, findOrderQuery, map[string]any{"partnerOrderID": partnerOrderID}, &resp); err != nil {
		return nil, err
	}
	for _, edge := range resp.Orders.Data.Edges {
		if edge.Node.PartnerOrderID == partnerOrderID {
			node := edge.Node
			return &node, nil
		}
	}
	return nil, nil
}

// query runs a GraphQL document. GraphQL errors are reported with HTTP 200,
// so they are turned into provider errors here.
func (a *Adapter) query(ctx context.Context, q string, vars map[string]any, out any) error {
	var resp graphqlResponse
	if err := a.client.Do(ctx, http.MethodPost, graphqlPath, graphqlRequest{Query: q, Variables: vars}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		status := http.StatusUnprocessableEntity
		for _, e := range resp.Errors {
			messages = append(messages, e.Message)
			if e.Code >= 400 && e.Code < 600 {
				status = e.Code
			}
		}
		return &domain.ProviderError{
			Provider:   domain.ProviderShipHero,
			StatusCode: status,
			Message:    strings.Join(messages, "; "),
		}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return &domain.ProviderError{Provider: domain.ProviderShipHero, StatusCode: http.StatusBadGateway, Message: "malformed data: " + err.Error()}
	}
	return nil
}

func toResult(orderID string, o *order) *domain.FulfillmentResult {
	result := &domain.FulfillmentResult{
		OrderID:       orderID,
		FulfillmentID: o.ID,
		Provider:      domain.ProviderShipHero,
		Status:        providers.MapStatus(statuses, o.FulfillmentStatus),
	}
	for _, s := range o.Shipments {
		for _, label := range s.ShippingLabels {
			if label.TrackingNumber != "" {
				result.Tracking = &domain.Tracking{
					Carrier: label.Carrier,
					Number:  label.TrackingNumber,
					URL:     label.TrackingURL,
				}
				return result
			}
		}
	}
	return result
}

func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, " "); i > 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
