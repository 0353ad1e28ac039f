package mocks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// MockCipher is a reversible, non-secret cipher for tests.
type MockCipher struct {
	FailDecrypt bool
}

var mockCipherPrefix = []byte("enc:")

func (c *MockCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return append(append([]byte(nil), mockCipherPrefix...), plaintext...), nil
}

func (c *MockCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.FailDecrypt || !bytes.HasPrefix(ciphertext, mockCipherPrefix) {
		return nil, errors.New("mock cipher: cannot decrypt")
	}
	return append([]byte(nil), ciphertext[len(mockCipherPrefix):]...), nil
}

// MockRateLimiter counts acquisitions and optionally rejects them.
type MockRateLimiter struct {
	mu        sync.Mutex
	AcquireFn func(key string, mode driven.AcquireMode) error
	Acquired  map[driven.AcquireMode]int
}

// NewMockRateLimiter creates a limiter that always grants tokens.
func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{Acquired: make(map[driven.AcquireMode]int)}
}

func (m *MockRateLimiter) Acquire(ctx context.Context, key string, limit domain.RateLimit, mode driven.AcquireMode) error {
	if m.AcquireFn != nil {
		if err := m.AcquireFn(key, mode); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acquired[mode]++
	return nil
}

// Count returns how many tokens were granted in a mode.
func (m *MockRateLimiter) Count(mode driven.AcquireMode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Acquired[mode]
}

// MockPublisher records published messages.
type MockPublisher struct {
	mu       sync.Mutex
	Messages map[string][][]byte
	Err      error
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[channel] = append(m.Messages[channel], append([]byte(nil), payload...))
	return nil
}

// Count returns how many messages went to a channel.
func (m *MockPublisher) Count(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages[channel])
}

// MockMetricsSink records metrics in memory.
type MockMetricsSink struct {
	mu      sync.Mutex
	Metrics map[string][]float64
	Errors  []driven.ErrorContext
}

// NewMockMetricsSink creates a new MockMetricsSink
func NewMockMetricsSink() *MockMetricsSink {
	return &MockMetricsSink{Metrics: make(map[string][]float64)}
}

func (m *MockMetricsSink) RecordMetric(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Metrics[name] = append(m.Metrics[name], value)
}

func (m *MockMetricsSink) RecordError(ec driven.ErrorContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, ec)
}

// Count returns how many samples were recorded for a metric.
func (m *MockMetricsSink) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Metrics[name])
}

// ErrorCount returns how many errors were recorded.
func (m *MockMetricsSink) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors)
}

// DispatchedEvent is one call to MockWebhookDispatcher.
type DispatchedEvent struct {
	Key   domain.IntegrationKey
	Event domain.EventType
	Data  any
}

// MockWebhookDispatcher records dispatched events.
type MockWebhookDispatcher struct {
	mu     sync.Mutex
	Events []DispatchedEvent
}

func (m *MockWebhookDispatcher) Dispatch(ctx context.Context, key domain.IntegrationKey, event domain.EventType, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, DispatchedEvent{Key: key, Event: event, Data: data})
}

// Count returns how many events of a type were dispatched.
func (m *MockWebhookDispatcher) Count(event domain.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// MockCacheBackend is a map-backed cache without expiry.
type MockCacheBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
	tags    map[string][]string
}

// NewMockCacheBackend creates a new MockCacheBackend
func NewMockCacheBackend() *MockCacheBackend {
	return &MockCacheBackend{
		entries: make(map[string][]byte),
		tags:    make(map[string][]string),
	}
}

func (m *MockCacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *MockCacheBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	for _, tag := range tags {
		m.tags[tag] = append(m.tags[tag], key)
	}
	return nil
}

func (m *MockCacheBackend) InvalidateTags(ctx context.Context, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		for _, key := range m.tags[tag] {
			delete(m.entries, key)
		}
		delete(m.tags, tag)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *MockCacheBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// HasTagPrefix reports whether any live tag starts with prefix.
func (m *MockCacheBackend) HasTagPrefix(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tag := range m.tags {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

// MockCredentialVault is a CredentialVault over a MockIntegrationStore
// that keeps credentials in plaintext.
type MockCredentialVault struct {
	Store *MockIntegrationStore

	LoadFn func(key domain.IntegrationKey) (*domain.SellerIntegration, error)

	mu          sync.Mutex
	reauthMarks map[domain.IntegrationKey]int
}

var _ driven.CredentialVault = (*MockCredentialVault)(nil)

// NewMockCredentialVault creates a vault over store.
func NewMockCredentialVault(store *MockIntegrationStore) *MockCredentialVault {
	return &MockCredentialVault{Store: store, reauthMarks: make(map[domain.IntegrationKey]int)}
}

func (m *MockCredentialVault) Load(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	if m.LoadFn != nil {
		return m.LoadFn(key)
	}
	return m.Store.Get(ctx, key)
}

func (m *MockCredentialVault) LoadConnected(ctx context.Context, key domain.IntegrationKey) (*domain.SellerIntegration, error) {
	integration, err := m.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotConnected, key)
		}
		return nil, err
	}
	if !integration.IsConnected() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotConnected, key, integration.Status)
	}
	if m.LoadFn != nil {
		return m.LoadFn(key)
	}
	return integration, nil
}

func (m *MockCredentialVault) SaveCredentials(ctx context.Context, key domain.IntegrationKey, creds domain.Credentials, expected time.Time, event domain.HistoryEvent) (time.Time, error) {
	updated, err := m.Store.UpdateCredentials(ctx, key, nil, expected, event)
	if err != nil {
		return time.Time{}, err
	}
	m.Store.setCredentials(key, creds)
	return updated, nil
}

func (m *MockCredentialVault) MarkNeedsReauth(ctx context.Context, key domain.IntegrationKey, detail string) error {
	m.mu.Lock()
	m.reauthMarks[key]++
	m.mu.Unlock()
	return m.Store.UpdateStatus(ctx, key, domain.ConnectionNeedsReauth, domain.NewHistoryEvent(domain.HistoryReauthRequired, detail))
}

// ReauthMarks returns how many times a key was flagged.
func (m *MockCredentialVault) ReauthMarks(key domain.IntegrationKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reauthMarks[key]
}
