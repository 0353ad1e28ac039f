package domain

import (
	"fmt"
	"time"
)

// MaxSyncItemErrors caps the per-item error list kept on a sync record.
// Further errors are only counted in ErrorsDropped.
const MaxSyncItemErrors = 100

// SyncStatus represents the current state of a batch sync
type SyncStatus string

const (
	SyncStatusQueued    SyncStatus = "queued"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusCompleted, SyncStatusFailed, SyncStatusCancelled:
		return true
	}
	return false
}

// SyncKind selects what each batch item does at the provider
type SyncKind string

const (
	SyncKindProductImport      SyncKind = "product_import"
	SyncKindProductUpdate      SyncKind = "product_update"
	SyncKindProductDelete      SyncKind = "product_delete"
	SyncKindInventoryReconcile SyncKind = "inventory_reconcile"
)

// RequiredCapability returns the provider capability the kind needs.
func (k SyncKind) RequiredCapability() (Capability, error) {
	switch k {
	case SyncKindProductImport, SyncKindProductUpdate, SyncKindProductDelete:
		return CapabilityProducts, nil
	case SyncKindInventoryReconcile:
		return CapabilityInventory, nil
	}
	return "", NewValidationError("kind", fmt.Sprintf("unknown sync kind %q", k))
}

// SyncItem is one unit of work in a batch.
type SyncItem struct {
	ID      string   `json:"id"`
	Product *Product `json:"product,omitempty"`

	// SKU and ExpectedOnHand are used by inventory reconciliation.
	SKU            string `json:"sku,omitempty"`
	ExpectedOnHand *int   `json:"expected_on_hand,omitempty"`
}

// ItemError records why a batch item failed.
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// ItemOutcome is the result of processing one item.
type ItemOutcome struct {
	ItemID string
	Err    error
}

// BatchSyncRequest starts a sync job.
type BatchSyncRequest struct {
	SellerID string       `json:"seller_id"`
	Provider ProviderName `json:"provider"`
	Sandbox  bool         `json:"sandbox"`
	Kind     SyncKind     `json:"kind"`
	Items    []SyncItem   `json:"items"`
}

// Key returns the integration the batch runs against.
func (r BatchSyncRequest) Key() IntegrationKey {
	return IntegrationKey{SellerID: r.SellerID, Provider: r.Provider, Sandbox: r.Sandbox}
}

// SyncProgress is the externally visible state of a batch sync.
// Invariant: Processed == Succeeded + Failed, and counters never decrease.
type SyncProgress struct {
	ID              string       `json:"id"`
	SellerID        string       `json:"seller_id"`
	Provider        ProviderName `json:"provider"`
	Sandbox         bool         `json:"sandbox"`
	Kind            SyncKind     `json:"kind"`
	Status          SyncStatus   `json:"status"`
	Total           int          `json:"total"`
	Processed       int          `json:"processed"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	Errors          []ItemError  `json:"errors,omitempty"`
	ErrorsDropped   int          `json:"errors_dropped,omitempty"`
	Error           string       `json:"error,omitempty"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
	QueuedAt        time.Time    `json:"queued_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewSyncProgress creates a queued sync record for a request.
func NewSyncProgress(req BatchSyncRequest) *SyncProgress {
	now := time.Now().UTC()
	return &SyncProgress{
		ID:        NewID(),
		SellerID:  req.SellerID,
		Provider:  req.Provider,
		Sandbox:   req.Sandbox,
		Kind:      req.Kind,
		Status:    SyncStatusQueued,
		Total:     len(req.Items),
		QueuedAt:  now,
		UpdatedAt: now,
	}
}

// Key returns the integration the batch runs against.
func (p *SyncProgress) Key() IntegrationKey {
	return IntegrationKey{SellerID: p.SellerID, Provider: p.Provider, Sandbox: p.Sandbox}
}

// Record applies one item outcome. It is a no-op once terminal.
func (p *SyncProgress) Record(outcome ItemOutcome) {
	if p.Status.IsTerminal() {
		return
	}
	p.Processed++
	if outcome.Err == nil {
		p.Succeeded++
	} else {
		p.Failed++
		if len(p.Errors) < MaxSyncItemErrors {
			p.Errors = append(p.Errors, ItemError{ItemID: outcome.ItemID, Message: outcome.Err.Error()})
		} else {
			p.ErrorsDropped++
		}
	}
	p.UpdatedAt = time.Now().UTC()
}

// Outcome picks the terminal status for a run that was not cancelled
// and did not hit a systemic error.
func (p *SyncProgress) Outcome() SyncStatus {
	if p.Failed == 0 {
		return SyncStatusCompleted
	}
	return SyncStatusFailed
}

// Percent returns progress in the range 0-100.
func (p *SyncProgress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// Err returns a PartialFailureError for a failed batch with item failures,
// nil otherwise.
func (p *SyncProgress) Err() error {
	if p.Status != SyncStatusFailed || p.Failed == 0 {
		return nil
	}
	return &PartialFailureError{
		SyncID:    p.ID,
		Succeeded: p.Succeeded,
		Failed:    p.Failed,
		Errors:    p.Errors,
	}
}
