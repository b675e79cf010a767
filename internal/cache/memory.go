package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ResponseCache memoizes computed analytics reports for a bounded time so
// dashboard polling does not re-run full aggregations.
type ResponseCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Sweep()
	InvalidatePrefix(prefix string)
}

type entry struct {
	value      interface{}
	insertedAt time.Time
}

// Memory is a process-local ResponseCache with a fixed TTL. Entries older
// than the TTL are treated as absent on read and purged by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	now func() time.Time // test hook
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value if it is younger than the TTL. An expired
// entry counts as a miss and is evicted.
func (m *Memory) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if m.now().Sub(e.insertedAt) >= m.ttl {
		m.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if cur, ok := m.entries[key]; ok && m.now().Sub(cur.insertedAt) >= m.ttl {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores the value, overwriting any previous entry for the key. Two
// requests racing to fill the same key both write; last write wins, which is
// fine because the values are derived from the same inputs.
func (m *Memory) Set(key string, value interface{}) {
	m.mu.Lock()
	m.entries[key] = entry{value: value, insertedAt: m.now()}
	m.mu.Unlock()
}

// Sweep evicts every expired entry, bounding memory growth independent of
// read traffic.
func (m *Memory) Sweep() {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	for key, e := range m.entries {
		if e.insertedAt.Before(cutoff) || e.insertedAt.Equal(cutoff) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

// InvalidatePrefix drops all entries whose key starts with prefix. Called
// after catalog writes so stale aggregates never outlive a mutation.
func (m *Memory) InvalidatePrefix(prefix string) {
	m.mu.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

// Len reports the number of live and expired entries still held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
