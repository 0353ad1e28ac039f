package shipbob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Adapter implements the interface.
var _ driven.ProviderAdapter = (*Adapter)(nil)

var statuses = map[string]domain.FulfillmentStatus{
	"importreview":       domain.FulfillmentPending,
	"pending":            domain.FulfillmentPending,
	"processing":         domain.FulfillmentProcessing,
	"exception":          domain.FulfillmentProcessing,
	"onhold":             domain.FulfillmentProcessing,
	"partiallyfulfilled": domain.FulfillmentShipped,
	"fulfilled":          domain.FulfillmentShipped,
	"shipped":            domain.FulfillmentShipped,
	"completed":          domain.FulfillmentDelivered,
	"delivered":          domain.FulfillmentDelivered,
	"cancelled":          domain.FulfillmentCancelled,
}

// Adapter talks to the ShipBob REST API with a personal access token.
// Orders carry the platform order ID as reference_id, which is how
// CreateOrder finds an order it already submitted.
type Adapter struct {
	client *providers.Client
}

type address struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	Company  string `json:"company_name,omitempty"`
	City     string `json:"city"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country"`
	ZipCode  string `json:"zip_code"`
}

type recipient struct {
	Name    string  `json:"name"`
	Address address `json:"address"`
	Email   string  `json:"email,omitempty"`
	Phone   string  `json:"phone_number,omitempty"`
}

type product struct {
	ReferenceID string      `json:"reference_id"`
	Name        string      `json:"name,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	ReferenceID    string    `json:"reference_id"`
	ShippingMethod string    `json:"shipping_method"`
	Recipient      recipient `json:"recipient"`
	Products       []product `json:"products"`
}

type tracking struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

type shipment struct {
	Status   string    `json:"status"`
	Tracking *tracking `json:"tracking"`
}

type order struct {
	ID          int64      `json:"id"`
	ReferenceID string     `json:"reference_id"`
	Status      string     `json:"status"`
	Shipments   []shipment `json:"shipments"`
}

type inventoryProduct struct {
	ReferenceID              string `json:"reference_id"`
	TotalOnHandQuantity      int    `json:"total_onhand_quantity"`
	TotalFulfillableQuantity int    `json:"total_fulfillable_quantity"`
	TotalCommittedQuantity   int    `json:"total_committed_quantity"`
}

// Provider returns shipbob.
func (a *Adapter) Provider() domain.ProviderName {
	return domain.ProviderShipBob
}

// CreateOrder submits the order unless one with the same reference_id
// already exists.
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
		shipping = "Standard"
	}
	req := createOrderRequest{
		ReferenceID:    o.OrderID,
		ShippingMethod: shipping,
		Recipient: recipient{
			Name:  o.Address.Name,
			Email: o.Address.Email,
			Phone: o.Address.Phone,
			Address: address{
				Address1: o.Address.Line1,
				Address2: o.Address.Line2,
				Company:  o.Address.Company,
				City:     o.Address.City,
				State:    o.Address.State,
				Country:  o.Address.Country,
				ZipCode:  o.Address.PostalCode,
			},
		},
	}
	for _, item := range o.Items {
		p := product{ReferenceID: item.SKU, Name: item.Name, Quantity: item.Quantity}
		if !item.UnitPrice.IsZero() {
			p.UnitPrice = json.Number(item.UnitPrice.String())
		}
		req.Products = append(req.Products, p)
	}

	var created order
	if err := a.client.Do(ctx, http.MethodPost, "/order", req, &created); err != nil {
		return nil, err
	}
	return toResult(o.OrderID, &created), nil
}

// GetOrder looks the order up by reference_id.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*domain.FulfillmentResult, error) {
	existing, err := a.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: shipbob order %s", domain.ErrNotFound, orderID)
	}
	return toResult(orderID, existing), nil
}

// GetInventoryLevels returns stock for the SKUs ShipBob knows about.
func (a *Adapter) GetInventoryLevels(ctx context.Context, skus []string) ([]domain.InventoryLevel, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	path := "/product?ReferenceIds=" + url.QueryEscape(strings.Join(skus, ","))

	var products []inventoryProduct
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &products); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(skus))
	for _, sku := range skus {
		wanted[sku] = true
	}
	levels := make([]domain.InventoryLevel, 0, len(products))
	for _, p := range products {
		if !wanted[p.ReferenceID] {
			continue
		}
		levels = append(levels, domain.InventoryLevel{
			SKU:       p.ReferenceID,
			OnHand:    p.TotalOnHandQuantity,
			Available: p.TotalFulfillableQuantity,
			Committed: p.TotalCommittedQuantity,
		})
	}
	return levels, nil
}

func (a *Adapter) findOrder(ctx context.Context, referenceID string) (*order, error) {
	var orders []order
	path := "/order?ReferenceIds=" + url.QueryEscape(referenceID)
	if err := a.client.Do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ReferenceID == referenceID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

func toResult(orderID string, o *order) *domain.FulfillmentResult {
	result := &domain.FulfillmentResult{
		OrderID:       orderID,
		FulfillmentID: strconv.FormatInt(o.ID, 10),
		Provider:      domain.ProviderShipBob,
		Status:        providers.MapStatus(statuses, o.Status),
	}
	for _, s := range o.Shipments {
		if s.Tracking != nil && s.Tracking.TrackingNumber != "" {
			result.Tracking = &domain.Tracking{
				Carrier: s.Tracking.Carrier,
				Number:  s.Tracking.TrackingNumber,
				URL:     s.Tracking.TrackingURL,
			}
			break
		}
	}
	return result
}
