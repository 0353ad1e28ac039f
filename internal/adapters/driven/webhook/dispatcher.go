package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.WebhookDispatcher = (*Dispatcher)(nil)

// Delivery headers sent with every webhook request.
const (
	HeaderEvent     = "X-Marketlink-Event"
	HeaderTimestamp = "X-Marketlink-Timestamp"
	HeaderSignature = "X-Marketlink-Signature"
	HeaderDelivery  = "X-Marketlink-Delivery"
	HeaderAttempt   = "X-Marketlink-Attempt"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultTimeout     = 10 * time.Second

	userAgent = "marketlink-webhooks/1.0"
)

// Config configures a Dispatcher.
type Config struct {
	// Vault loads the seller's decrypted webhook subscription.
	Vault driven.CredentialVault

	// Store records exhausted deliveries on the integration.
	Store driven.IntegrationStore

	HTTPClient *http.Client
	Metrics    driven.MetricsSink
	Logger     *slog.Logger

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
}

// Dispatcher delivers signed event notifications to seller endpoints.
// Delivery failures are retried, then recorded on the integration; they
// never surface to the caller.
type Dispatcher struct {
	vault   driven.CredentialVault
	store   driven.IntegrationStore
	client  *http.Client
	metrics driven.MetricsSink
	logger  *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	timeout     time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher, filling unset fields with defaults.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		vault:       cfg.Vault,
		store:       cfg.Store,
		client:      cfg.HTTPClient,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		timeout:     cfg.Timeout,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.baseDelay <= 0 {
		d.baseDelay = DefaultBaseDelay
	}
	if d.maxDelay <= 0 {
		d.maxDelay = DefaultMaxDelay
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	return d
}

// Dispatch delivers event to the integration's webhook endpoint if the
// seller subscribed to it. It blocks until the delivery succeeds or the
// attempts are exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, key domain.IntegrationKey, event domain.EventType, data any) {
	integration, err := d.vault.Load(ctx, key)
	if err != nil {
		d.logger.Warn("webhook skipped: integration not loadable",
			"integration", key.String(),
			"event", event,
			"error", err,
		)
		return
	}
	if !integration.Webhook.Subscribed(event) {
		return
	}
	hook := integration.Webhook

	envelope := domain.WebhookEvent{
		ID:         uuid.NewString(),
		Type:       event,
		SellerID:   key.SellerID,
		Provider:   key.Provider,
		Sandbox:    key.Sandbox,
		OccurredAt: d.now(),
		Data:       data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		d.logger.Error("webhook payload not serializable",
			"integration", key.String(),
			"event", event,
			"error", err,
		)
		d.record(event, "invalid_payload")
		return
	}

	var last domain.DeliveryAttempt
	for n := 1; n <= d.maxAttempts; n++ {
		last = d.deliver(ctx, hook, envelope, body, n)
		if last.Succeeded() {
			d.logger.Debug("webhook delivered",
				"integration", key.String(),
				"event", event,
				"delivery_id", envelope.ID,
				"attempt", n,
				"duration", last.Duration,
			)
			d.record(event, "delivered")
			return
		}

		d.logger.Warn("webhook delivery attempt failed",
			"integration", key.String(),
			"event", event,
			"delivery_id", envelope.ID,
			"attempt", n,
			"status", last.StatusCode,
			"error", last.Err,
		)
		if n == d.maxAttempts {
			break
		}
		if err := d.sleep(ctx, d.backoff(n)); err != nil {
			break
		}
	}

	lastError := describeAttempt(last)
	d.logger.Error("webhook delivery exhausted",
		"integration", key.String(),
		"event", event,
		"delivery_id", envelope.ID,
		"attempts", last.Attempt,
		"last_error", lastError,
	)
	d.record(event, "failed")

	if err := d.store.RecordWebhookFailure(context.WithoutCancel(ctx), key, lastError, d.now()); err != nil {
		d.logger.Error("failed to record webhook failure",
			"integration", key.String(),
			"error", err,
		)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, hook *domain.WebhookConfig, envelope domain.WebhookEvent, body []byte, attempt int) domain.DeliveryAttempt {
	ts := d.now().Unix()
	result := domain.DeliveryAttempt{
		DeliveryID: envelope.ID,
		URL:        hook.URL,
		Attempt:    attempt,
		Signature:  SignatureHeader(hook.Secret, ts, body),
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		result.Err = fmt.Errorf("build request: %w", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, string(envelope.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, result.Signature)
	req.Header.Set(HeaderDelivery, envelope.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	start := time.Now()
	resp, err := d.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result.StatusCode = resp.StatusCode
	return result
}

// backoff returns the wait after the nth failed attempt.
func (d *Dispatcher) backoff(n int) time.Duration {
	if n > 30 {
		return d.maxDelay
	}
	delay := d.baseDelay * time.Duration(1<<uint(n-1))
	if delay <= 0 || delay > d.maxDelay {
		return d.maxDelay
	}
	return delay
}

func (d *Dispatcher) record(event domain.EventType, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordMetric(driven.MetricWebhookTotal, 1, map[string]string{
		"event":  string(event),
		"result": result,
	})
}

func describeAttempt(a domain.DeliveryAttempt) string {
	if a.Err != nil {
		return fmt.Sprintf("attempt %d: %v", a.Attempt, a.Err)
	}
	return fmt.Sprintf("attempt %d: endpoint returned %d", a.Attempt, a.StatusCode)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sign returns the hex HMAC-SHA256 of "{timestamp}.{body}" keyed by secret.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the X-Marketlink-Signature value.
func SignatureHeader(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, Sign(secret, timestamp, body))
}

// Signature verification errors.
var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
)

// Verify checks a signature header against body. A zero tolerance skips the
// timestamp freshness check.
func Verify(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return ErrMalformedSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return ErrSignatureExpired
		}
	}
	expected := Sign(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureMismatch
	}
	return nil
}
