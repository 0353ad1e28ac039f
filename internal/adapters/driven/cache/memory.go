// Package cache provides an in-memory response cache backend for
// single-instance deployments and tests.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Ensure Memory implements CacheBackend
var _ driven.CacheBackend = (*Memory)(nil)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = time.Minute

type entry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// Memory implements driven.CacheBackend with a TTL map and a tag index.
// A background goroutine sweeps expired entries until Close.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	tags    map[string]map[string]struct{}

	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemory creates an in-memory cache and starts its cleanup loop.
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	m := &Memory{
		entries:  make(map[string]entry),
		tags:     make(map[string]map[string]struct{}),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop(cleanupInterval)
	return m
}

// Get returns a live entry.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value with a TTL and indexes it under tags.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		m.untag(key, old.tags)
	}
	m.entries[key] = entry{
		value:     append([]byte(nil), value...),
		tags:      append([]string(nil), tags...),
		expiresAt: m.now().Add(ttl),
	}
	for _, tag := range tags {
		keys, ok := m.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// InvalidateTags drops every entry associated with any of the tags.
func (m *Memory) InvalidateTags(ctx context.Context, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tag := range tags {
		for key := range m.tags[tag] {
			if e, ok := m.entries[key]; ok {
				m.untag(key, e.tags)
				delete(m.entries, key)
			}
		}
		delete(m.tags, tag)
	}
	return nil
}

// Size returns the number of stored entries, expired ones included until swept.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired entries and their tag references.
func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			m.untag(key, e.tags)
			delete(m.entries, key)
		}
	}
}

// untag must be called with mu held.
func (m *Memory) untag(key string, tags []string) {
	for _, tag := range tags {
		keys := m.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.tags, tag)
		}
	}
}
