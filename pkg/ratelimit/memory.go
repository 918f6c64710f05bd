package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryStoreSize bounds the number of tracked addresses.
const DefaultMemoryStoreSize = 10000

// MemoryStore keeps counters in a bounded, expiring LRU. It is local to the
// process: counters reset on restart and are not shared between replicas.
type MemoryStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, Entry]
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most size keys. ttl should be at
// least the longest window used with the store; entries are also checked
// against their own ResetAt.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &MemoryStore{
		entries: expirable.NewLRU[string, Entry](size, nil, ttl),
		now:     time.Now,
	}
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries.Get(key)
	if !ok || e.Expired(now) {
		e = Entry{ResetAt: now.Add(window)}
	}
	e.Count++
	m.entries.Add(key, e)
	return e, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(m.now()) {
		m.entries.Remove(key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Expire implements Store.
func (m *MemoryStore) Expire(_ context.Context, key string) error {
	m.mu.Lock()
	m.entries.Remove(key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys, including ones whose window has
// closed but which have not been evicted yet.
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}
