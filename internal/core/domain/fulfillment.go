package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FulfillmentStatus is the normalized order state across providers
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
	FulfillmentFailed     FulfillmentStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s FulfillmentStatus) IsTerminal() bool {
	switch s {
	case FulfillmentDelivered, FulfillmentCancelled, FulfillmentFailed:
		return true
	}
	return false
}

// LineItem is one SKU on a fulfillment order.
type LineItem struct {
	SKU       string          `json:"sku" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Address is a shipping destination.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

// Tracking is carrier shipment information.
type Tracking struct {
	Carrier   string     `json:"carrier,omitempty"`
	Number    string     `json:"number,omitempty"`
	URL       string     `json:"url,omitempty"`
	ShippedAt *time.Time `json:"shipped_at,omitempty"`
}

// FulfillmentRequest is the caller's order submission.
// OrderID doubles as the idempotency key.
type FulfillmentRequest struct {
	OrderID        string     `json:"order_id" validate:"required,max=128"`
	Items          []LineItem `json:"items" validate:"required,min=1,dive"`
	Address        Address    `json:"address"`
	ShippingMethod string     `json:"shipping_method,omitempty"`
}

// FulfillmentOrder is a platform order dispatched to a provider.
type FulfillmentOrder struct {
	OrderID        string            `json:"order_id"`
	SellerID       string            `json:"seller_id"`
	Provider       ProviderName      `json:"provider"`
	Sandbox        bool              `json:"sandbox"`
	FulfillmentID  string            `json:"fulfillment_id,omitempty"`
	Items          []LineItem        `json:"items"`
	Address        Address           `json:"address"`
	ShippingMethod string            `json:"shipping_method,omitempty"`
	Status         FulfillmentStatus `json:"status"`
	Tracking       *Tracking         `json:"tracking,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewFulfillmentOrder creates a pending order for an integration.
func NewFulfillmentOrder(key IntegrationKey, req FulfillmentRequest) *FulfillmentOrder {
	now := time.Now().UTC()
	return &FulfillmentOrder{
		OrderID:        req.OrderID,
		SellerID:       key.SellerID,
		Provider:       key.Provider,
		Sandbox:        key.Sandbox,
		Items:          req.Items,
		Address:        req.Address,
		ShippingMethod: req.ShippingMethod,
		Status:         FulfillmentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Key returns the integration the order was dispatched through.
func (o *FulfillmentOrder) Key() IntegrationKey {
	return IntegrationKey{SellerID: o.SellerID, Provider: o.Provider, Sandbox: o.Sandbox}
}

// Apply copies a provider result onto the order and reports whether
// anything visible changed.
func (o *FulfillmentOrder) Apply(result *FulfillmentResult) bool {
	changed := o.Status != result.Status || o.FulfillmentID != result.FulfillmentID
	if result.Tracking != nil && (o.Tracking == nil || *o.Tracking != *result.Tracking) {
		changed = true
	}
	o.Status = result.Status
	if result.FulfillmentID != "" {
		o.FulfillmentID = result.FulfillmentID
	}
	if result.Tracking != nil {
		o.Tracking = result.Tracking
	}
	o.Error = ""
	if changed {
		o.UpdatedAt = time.Now().UTC()
	}
	return changed
}

// FulfillmentResult is the normalized provider response for an order.
type FulfillmentResult struct {
	OrderID       string            `json:"order_id"`
	FulfillmentID string            `json:"fulfillment_id"`
	Provider      ProviderName      `json:"provider"`
	Status        FulfillmentStatus `json:"status"`
	Tracking      *Tracking         `json:"tracking,omitempty"`
}

// InventoryLevel is stock for one SKU at a provider.
type InventoryLevel struct {
	SKU       string `json:"sku"`
	OnHand    int    `json:"on_hand"`
	Available int    `json:"available"`
	Committed int    `json:"committed"`
}

// Product is a catalog entry pushed to a dropshipping provider.
type Product struct {
	SKU         string          `json:"sku" validate:"required"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	VariantID   string          `json:"variant_id,omitempty"`
}
