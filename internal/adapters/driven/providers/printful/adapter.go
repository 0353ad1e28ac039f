package printful

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Adapter implements the interfaces.
var (
	_ driven.ProviderAdapter = (*Adapter)(nil)
	_ driven.ProductCatalog  = (*Adapter)(nil)
)

var statuses = map[string]domain.FulfillmentStatus{
	"draft":     domain.FulfillmentPending,
	"pending":   domain.FulfillmentProcessing,
	"inprocess": domain.FulfillmentProcessing,
	"onhold":    domain.FulfillmentProcessing,
	"partial":   domain.FulfillmentShipped,
	"fulfilled": domain.FulfillmentShipped,
	"archived":  domain.FulfillmentDelivered,
	"canceled":  domain.FulfillmentCancelled,
	"failed":    domain.FulfillmentFailed,
}

// Adapter talks to the Printful REST API with an OAuth access token.
// Orders and sync products are addressed by external ID ("@{id}").
type Adapter struct {
	client *providers.Client
}

type envelope[T any] struct {
	Code   int `json:"code"`
	Result T   `json:"result"`
}

type recipient struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

type orderItem struct {
	ExternalVariantID string `json:"external_variant_id"`
	Quantity          int    `json:"quantity"`
	RetailPrice       string `json:"retail_price,omitempty"`
	Name              string `json:"name,omitempty"`
}

type createOrderRequest struct {
	ExternalID string      `json:"external_id"`
	Shipping   string      `json:"shipping,omitempty"`
	Recipient  recipient   `json:"recipient"`
	Items      []orderItem `json:"items"`
}

type shipment struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

type order struct {
	ID         int64      `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Shipments  []shipment `json:"shipments"`
}

type warehouseVariant struct {
	SKU            string `json:"sku"`
	StockOnHand    int    `json:"stock_on_hand"`
	StockAvailable int    `json:"stock_available"`
	StockCommitted int    `json:"stock_committed"`
}

type warehouseProduct struct {
	ID       int64              `json:"id"`
	Variants []warehouseVariant `json:"variants"`
}

type syncProduct struct {
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
}

type syncFile struct {
	URL string `json:"url"`
}

type syncVariant struct {
	ExternalID  string     `json:"external_id"`
	VariantID   int64      `json:"variant_id"`
	RetailPrice string     `json:"retail_price"`
	Files       []syncFile `json:"files,omitempty"`
}

// Provider returns printful.
func (a *Adapter) Provider() domain.ProviderName {
	return domain.ProviderPrintful
}

// CreateOrder submits the order with the platform order ID as external_id.
// Printful rejects a second order with the same external_id, in which case
// the existing order is returned.
func (a *Adapter) CreateOrder(ctx context.Context, o *domain.FulfillmentOrder) (*domain.FulfillmentResult, error) {
	req := createOrderRequest{
		ExternalID: o.OrderID,
		Shipping:   strings.ToUpper(o.ShippingMethod),
		Recipient: recipient{
			Name:        o.Address.Name,
			Company:     o.Address.Company,
			Address1:    o.Address.Line1,
			Address2:    o.Address.Line2,
			City:        o.Address.City,
			StateCode:   o.Address.State,
			CountryCode: o.Address.Country,
			Zip:         o.Address.PostalCode,
			Phone:       o.Address.Phone,
			Email:       o.Address.Email,
		},
	}
	for _, item := range o.Items {
		oi := orderItem{ExternalVariantID: item.SKU, Quantity: item.Quantity, Name: item.Name}
		if !item.UnitPrice.IsZero() {
			oi.RetailPrice = item.UnitPrice.StringFixed(2)
		}
		req.Items = append(req.Items, oi)
	}

	var resp envelope[order]
	err := a.client.Do(ctx, http.MethodPost, "/orders?confirm=true", req, &resp)
	if isDuplicate(err) {
		return a.GetOrder(ctx, o.OrderID)
	}
	if err != nil {
		return nil, err
	}
	return toResult(o.OrderID, &resp.Result), nil
}

// GetOrder fetches the order by external ID.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*domain.FulfillmentResult, error) {
	var resp envelope[order]
	if err := a.client.Do(ctx, http.MethodGet, "/orders/@"+url.PathEscape(orderID), nil, &resp); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("printful order %s: %w", orderID, err)
		}
		return nil, err
	}
	return toResult(orderID, &resp.Result), nil
}

// GetInventoryLevels searches Printful warehouse stock for each SKU.
func (a *Adapter) GetInventoryLevels(ctx context.Context, skus []string) ([]domain.InventoryLevel, error) {
	levels := make([]domain.InventoryLevel, 0, len(skus))
	for _, sku := range skus {
		var resp envelope[[]warehouseProduct]
		path := "/warehouse/products?search=" + url.QueryEscape(sku)
		if err := a.client.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if level, ok := findVariant(resp.Result, sku); ok {
			levels = append(levels, level)
		}
	}
	return levels, nil
}

// CreateProduct creates a sync product whose single variant is the SKU.
func (a *Adapter) CreateProduct(ctx context.Context, p *domain.Product) (string, error) {
	variantID, err := strconv.ParseInt(p.VariantID, 10, 64)
	if err != nil || variantID <= 0 {
		return "", domain.NewValidationError("variant_id", "must be a Printful catalog variant id")
	}
	variant := syncVariant{
		ExternalID:  p.SKU,
		VariantID:   variantID,
		RetailPrice: p.Price.StringFixed(2),
	}
	if p.ImageURL != "" {
		variant.Files = []syncFile{{URL: p.ImageURL}}
	}
	body := map[string]any{
		"sync_product":  syncProduct{Name: p.Name, ExternalID: p.SKU, Thumbnail: p.ImageURL},
		"sync_variants": []syncVariant{variant},
	}

	var resp envelope[struct {
		ID         int64  `json:"id"`
		ExternalID string `json:"external_id"`
	}]
	if err := a.client.Do(ctx, http.MethodPost, "/store/products", body, &resp); err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.Result.ID, 10), nil
}

// UpdateProduct updates the sync product's name and thumbnail.
func (a *Adapter) UpdateProduct(ctx context.Context, p *domain.Product) error {
	body := map[string]any{
		"sync_product": syncProduct{Name: p.Name, Thumbnail: p.ImageURL},
	}
	if !p.Price.IsZero() {
		body["sync_variants"] = []map[string]any{{
			"external_id":  p.SKU,
			"retail_price": p.Price.StringFixed(2),
		}}
	}
	return a.client.Do(ctx, http.MethodPut, "/store/products/@"+url.PathEscape(p.SKU), body, nil)
}

// DeleteProduct removes the sync product. Deleting a product Printful
// does not have succeeds.
func (a *Adapter) DeleteProduct(ctx context.Context, sku string) error {
	err := a.client.Do(ctx, http.MethodDelete, "/store/products/@"+url.PathEscape(sku), nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func findVariant(products []warehouseProduct, sku string) (domain.InventoryLevel, bool) {
	for _, p := range products {
		for _, v := range p.Variants {
			if v.SKU == sku {
				return domain.InventoryLevel{
					SKU:       sku,
					OnHand:    v.StockOnHand,
					Available: v.StockAvailable,
					Committed: v.StockCommitted,
				}, true
			}
		}
	}
	return domain.InventoryLevel{}, false
}

// isDuplicate reports whether Printful rejected an order because its
// external_id is already used.
func isDuplicate(err error) bool {
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	if perr.StatusCode != http.StatusBadRequest && perr.StatusCode != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(perr.Message), "already exists")
}

func toResult(orderID string, o *order) *domain.FulfillmentResult {
	result := &domain.FulfillmentResult{
		OrderID:       orderID,
		FulfillmentID: strconv.FormatInt(o.ID, 10),
		Provider:      domain.ProviderPrintful,
		Status:        providers.MapStatus(statuses, o.Status),
	}
	for _, s := range o.Shipments {
		if s.TrackingNumber != "" {
			result.Tracking = &domain.Tracking{
				Carrier: s.Carrier,
				Number:  s.TrackingNumber,
				URL:     s.TrackingURL,
			}
			break
		}
	}
	return result
}
