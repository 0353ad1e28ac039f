package domain

import (
	"fmt"
	"time"
)

// ConnectionStatus is the lifecycle state of a seller integration
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionExpired      ConnectionStatus = "expired"
	ConnectionNeedsReauth  ConnectionStatus = "needs_reauth"
)

// ConnectionType records how the seller connected
type ConnectionType string

const (
	ConnectionTypeOAuth  ConnectionType = "oauth"
	ConnectionTypeAPIKey ConnectionType = "api_key"
	ConnectionTypeManual ConnectionType = "manual"
)

// HistoryEventType classifies an integration history entry
type HistoryEventType string

const (
	HistoryConnected          HistoryEventType = "connected"
	HistoryReconnected        HistoryEventType = "reconnected"
	HistoryDisconnected       HistoryEventType = "disconnected"
	HistoryCredentialsRotated HistoryEventType = "credentials_rotated"
	HistoryTokenRefreshed     HistoryEventType = "token_refreshed"
	HistoryReauthRequired     HistoryEventType = "reauth_required"
	HistoryConfigUpdated      HistoryEventType = "config_updated"
	HistoryWebhookFailed      HistoryEventType = "webhook_failed"
)

// HistoryEvent is an append-only audit entry on an integration.
type HistoryEvent struct {
	At     time.Time        `json:"at"`
	Type   HistoryEventType `json:"type"`
	Detail string           `json:"detail,omitempty"`
}

// NewHistoryEvent creates a history entry stamped with the current time.
func NewHistoryEvent(eventType HistoryEventType, detail string) HistoryEvent {
	return HistoryEvent{At: time.Now().UTC(), Type: eventType, Detail: detail}
}

// WebhookConfig is the seller's outbound webhook subscription.
// It is encrypted at rest because it carries the signing secret.
type WebhookConfig struct {
	Enabled bool        `json:"enabled"`
	URL     string      `json:"url"`
	Secret  string      `json:"secret"`
	Events  []EventType `json:"events"`
}

// Subscribed reports whether the webhook should receive an event.
// An empty event list subscribes to every event.
func (w *WebhookConfig) Subscribed(event EventType) bool {
	if w == nil || !w.Enabled || w.URL == "" {
		return false
	}
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// IntegrationKey identifies an integration: at most one active record per key.
type IntegrationKey struct {
	SellerID string       `json:"seller_id"`
	Provider ProviderName `json:"provider"`
	Sandbox  bool         `json:"sandbox"`
}

func (k IntegrationKey) String() string {
	env := "live"
	if k.Sandbox {
		env = "sandbox"
	}
	return fmt.Sprintf("%s/%s/%s", k.SellerID, k.Provider, env)
}

// SellerIntegration is a seller's connection to one provider environment.
type SellerIntegration struct {
	ID             string           `json:"id"`
	SellerID       string           `json:"seller_id"`
	Provider       ProviderName     `json:"provider"`
	Sandbox        bool             `json:"sandbox"`
	Description    string           `json:"description,omitempty"`
	Status         ConnectionStatus `json:"status"`
	ConnectionType ConnectionType   `json:"connection_type"`

	// Credentials and Webhook hold decrypted values. They are populated by
	// the credential vault and are never serialised.
	Credentials Credentials    `json:"-"`
	Webhook     *WebhookConfig `json:"-"`

	// EncryptedCredentials and EncryptedWebhook are the at-rest blobs.
	EncryptedCredentials []byte `json:"-"`
	EncryptedWebhook     []byte `json:"-"`

	WebhookLastError    string     `json:"webhook_last_error,omitempty"`
	WebhookFailureCount int        `json:"webhook_failure_count"`
	WebhookLastFailure  *time.Time `json:"webhook_last_failure,omitempty"`

	History     []HistoryEvent `json:"history,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Key returns the integration's identity triple.
func (i *SellerIntegration) Key() IntegrationKey {
	return IntegrationKey{SellerID: i.SellerID, Provider: i.Provider, Sandbox: i.Sandbox}
}

// IsConnected reports whether provider calls may be made.
func (i *SellerIntegration) IsConnected() bool {
	return i.Status == ConnectionConnected
}

// IsActive reports whether the record occupies its key. Disconnected
// records are kept for history and may be reconnected in place.
func (i *SellerIntegration) IsActive() bool {
	return i.Status != ConnectionDisconnected
}

// IntegrationSummary is a safe view without secrets for listing.
type IntegrationSummary struct {
	ID                  string           `json:"id"`
	SellerID            string           `json:"seller_id"`
	Provider            ProviderName     `json:"provider"`
	Sandbox             bool             `json:"sandbox"`
	Description         string           `json:"description,omitempty"`
	Status              ConnectionStatus `json:"status"`
	ConnectionType      ConnectionType   `json:"connection_type"`
	WebhookEnabled      bool             `json:"webhook_enabled"`
	WebhookURL          string           `json:"webhook_url,omitempty"`
	WebhookEvents       []EventType      `json:"webhook_events,omitempty"`
	WebhookLastError    string           `json:"webhook_last_error,omitempty"`
	WebhookFailureCount int              `json:"webhook_failure_count"`
	TokenExpiry         *time.Time       `json:"token_expiry,omitempty"`
	History             []HistoryEvent   `json:"history,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	LastUpdated         time.Time        `json:"last_updated"`
}

// ToSummary converts SellerIntegration to IntegrationSummary.
func (i *SellerIntegration) ToSummary() *IntegrationSummary {
	s := &IntegrationSummary{
		ID:                  i.ID,
		SellerID:            i.SellerID,
		Provider:            i.Provider,
		Sandbox:             i.Sandbox,
		Description:         i.Description,
		Status:              i.Status,
		ConnectionType:      i.ConnectionType,
		WebhookLastError:    i.WebhookLastError,
		WebhookFailureCount: i.WebhookFailureCount,
		History:             i.History,
		CreatedAt:           i.CreatedAt,
		LastUpdated:         i.LastUpdated,
	}
	if i.Webhook != nil {
		s.WebhookEnabled = i.Webhook.Enabled
		s.WebhookURL = i.Webhook.URL
		s.WebhookEvents = i.Webhook.Events
	}
	if i.Credentials != nil {
		s.TokenExpiry = i.Credentials.TokenExpiry()
	}
	return s
}
