package domain

import "time"

// EventType names a state change sellers can subscribe to
type EventType string

const (
	EventFulfillmentCreated EventType = "fulfillment.created"
	EventFulfillmentFailed  EventType = "fulfillment.failed"
	EventFulfillmentUpdated EventType = "fulfillment.updated"
	EventSyncCompleted      EventType = "sync.completed"
	EventSyncFailed         EventType = "sync.failed"
	EventSyncCancelled      EventType = "sync.cancelled"
	EventReauthRequired     EventType = "integration.needs_reauth"
)

// SyncEventType maps a terminal sync status to its webhook event.
func SyncEventType(status SyncStatus) EventType {
	switch status {
	case SyncStatusCompleted:
		return EventSyncCompleted
	case SyncStatusCancelled:
		return EventSyncCancelled
	default:
		return EventSyncFailed
	}
}

// WebhookEvent is the JSON envelope delivered to seller endpoints.
type WebhookEvent struct {
	ID         string       `json:"id"`
	Type       EventType    `json:"type"`
	SellerID   string       `json:"seller_id"`
	Provider   ProviderName `json:"provider"`
	Sandbox    bool         `json:"sandbox"`
	OccurredAt time.Time    `json:"occurred_at"`
	Data       any          `json:"data"`
}

// DeliveryAttempt is one try at delivering a webhook. It is not persisted.
type DeliveryAttempt struct {
	DeliveryID string
	URL        string
	Attempt    int
	Signature  string
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Succeeded reports whether the endpoint accepted the delivery.
func (a DeliveryAttempt) Succeeded() bool {
	return a.Err == nil && a.StatusCode >= 200 && a.StatusCode < 300
}
