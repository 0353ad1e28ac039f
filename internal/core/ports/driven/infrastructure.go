package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// Cipher encrypts credential blobs at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AcquireMode selects how a rate limiter behaves when the bucket is empty.
type AcquireMode int

const (
	// AcquireWait blocks until a token is available or the limiter's
	// maximum wait elapses. Used for reads.
	AcquireWait AcquireMode = iota

	// AcquireFailFast returns domain.ErrRateLimited immediately. Used for
	// writes so callers can decide whether to retry.
	AcquireFailFast
)

func (m AcquireMode) String() string {
	if m == AcquireFailFast {
		return "fail_fast"
	}
	return "wait"
}

// RateLimiter meters outbound calls per provider environment.
type RateLimiter interface {
	// Acquire takes one token from the bucket for key, creating it with
	// limit on first use. Exhaustion yields domain.ErrRateLimited.
	Acquire(ctx context.Context, key string, limit domain.RateLimit, mode AcquireMode) error
}

// CacheBackend stores cached provider responses.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with a TTL and associates it with tags
	// for later invalidation.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// InvalidateTags drops every entry associated with any of the tags.
	InvalidateTags(ctx context.Context, tags ...string) error
}

// Publisher pushes live updates to the pub/sub channel service.
// Delivery is at-most-once.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ErrorContext describes a failed operation for the metrics sink.
type ErrorContext struct {
	Operation string
	Provider  domain.ProviderName
	SellerID  string
	Err       error
}

// MetricsSink records operational metrics. Implementations must never
// block or fail the caller.
type MetricsSink interface {
	RecordMetric(name string, value float64, tags map[string]string)
	RecordError(ec ErrorContext)
}

// WebhookDispatcher delivers seller-facing events. Dispatch never
// returns an error; delivery failures are recorded on the integration.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, key domain.IntegrationKey, event domain.EventType, data any)
}

// CredentialVault loads integrations with decrypted secrets and writes
// credential changes back encrypted.
type CredentialVault interface {
	// Load returns the integration with Credentials and Webhook populated.
	// Fails with domain.ErrNotFound or domain.ErrCredentialsUnavailable.
	Load(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error)

	// LoadConnected is Load for integrations that are about to be called.
	// The status is checked before decryption, so a missing or inactive
	// record fails with domain.ErrNotConnected whatever its blobs hold.
	LoadConnected(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error)

	// SaveCredentials encrypts and stores creds if the record was not
	// modified since expected. Returns the new LastUpdated or domain.ErrConflict.
	SaveCredentials(ctx context.Context, key domain.IntegrationKey, creds domain.Credentials, expected time.Time, event domain.HistoryEvent) (time.Time, error)

	// MarkNeedsReauth flags the integration so no further calls are made
	// until the seller reconnects.
	MarkNeedsReauth(ctx context.Context, key domain.IntegrationKey, detail string) error
}

// Metric names recorded through MetricsSink. The suffix selects the
// collector type: _total is a counter, _seconds a histogram.
const (
	MetricOperationsTotal     = "marketlink_operations_total"
	MetricOperationSeconds    = "marketlink_operation_duration_seconds"
	MetricSyncItemsTotal      = "marketlink_sync_items_total"
	MetricSyncsTotal          = "marketlink_syncs_total"
	MetricCacheTotal          = "marketlink_cache_requests_total"
	MetricWebhookTotal        = "marketlink_webhook_deliveries_total"
	MetricTokenRefreshesTotal = "marketlink_token_refreshes_total"
	MetricRateLimitedTotal    = "marketlink_rate_limited_total"
)
