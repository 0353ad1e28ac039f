package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDistributedLock is an in-memory DistributedLock for testing.
// Each instance has its own owner ID, so two instances sharing a LockTable
// behave like two processes contending for the same Redis keys.
type MockDistributedLock struct {
	table *LockTable
	owner string

	// Custom behavior hooks (optional)
	AcquireFn func(name string, ttl time.Duration) (bool, error)
	PingFn    func() error
}

// LockTable is the shared lock state behind one or more mock locks.
type LockTable struct {
	mu       sync.Mutex
	locks    map[string]lockEntry
	acquires map[string]int
}

type lockEntry struct {
	owner  string
	expiry time.Time
}

// NewLockTable creates empty shared lock state.
func NewLockTable() *LockTable {
	return &LockTable{
		locks:    make(map[string]lockEntry),
		acquires: make(map[string]int),
	}
}

// NewMockDistributedLock creates a lock with private state.
func NewMockDistributedLock() *MockDistributedLock {
	return NewMockDistributedLockOn(NewLockTable(), "mock-owner")
}

// NewMockDistributedLockOn creates a lock instance sharing table with others.
func NewMockDistributedLockOn(table *LockTable, owner string) *MockDistributedLock {
	return &MockDistributedLock{table: table, owner: owner}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.locks[name]; exists && time.Now().Before(entry.expiry) {
		return false, nil
	}
	t.locks[name] = lockEntry{owner: m.owner, expiry: time.Now().Add(ttl)}
	t.acquires[name]++
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.locks[name]; exists && entry.owner == m.owner {
		delete(t.locks, name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[name]
	if !exists || entry.owner != m.owner || time.Now().After(entry.expiry) {
		return fmt.Errorf("lock %s not held by %s", name, m.owner)
	}
	entry.expiry = time.Now().Add(ttl)
	t.locks[name] = entry
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// IsHeld checks if a lock is currently held by anyone.
func (m *MockDistributedLock) IsHeld(name string) bool {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.locks[name]
	return exists && time.Now().Before(entry.expiry)
}

// Acquisitions returns how many times a lock was successfully taken.
func (m *MockDistributedLock) Acquisitions(name string) int {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquires[name]
}
