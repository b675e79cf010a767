package cache

import (
	"testing"
	"time"
)

const testTTL = 5 * time.Minute

// fixedClock lets tests move time without sleeping.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(testTTL)
	m.now = clock.now
	return m, clock
}

func TestMemoryGetSet(t *testing.T) {
	m, _ := newTestMemory()

	if _, ok := m.Get("analytics:overview:7d"); ok {
		t.Error("empty cache must miss")
	}

	m.Set("analytics:overview:7d", "v1")
	got, ok := m.Get("analytics:overview:7d")
	if !ok || got != "v1" {
		t.Errorf("Get = %v, %v; want v1, true", got, ok)
	}

	m.Set("analytics:overview:7d", "v2")
	if got, _ := m.Get("analytics:overview:7d"); got != "v2" {
		t.Errorf("after overwrite Get = %v, want v2", got)
	}
}

func TestMemoryTTLBoundary(t *testing.T) {
	m, clock := newTestMemory()
	m.Set("k", "v")

	clock.advance(testTTL - time.Millisecond)
	if _, ok := m.Get("k"); !ok {
		t.Error("entry just inside the TTL must hit")
	}

	clock.advance(2 * time.Millisecond)
	if _, ok := m.Get("k"); ok {
		t.Error("entry just past the TTL must miss")
	}
	// The expired read also evicts.
	if m.Len() != 0 {
		t.Errorf("Len = %d after expired read, want 0", m.Len())
	}
}

func TestMemorySetRefreshesTTL(t *testing.T) {
	m, clock := newTestMemory()
	m.Set("k", "v1")

	clock.advance(testTTL - time.Minute)
	m.Set("k", "v2")

	clock.advance(2 * time.Minute)
	got, ok := m.Get("k")
	if !ok || got != "v2" {
		t.Errorf("Get = %v, %v; re-Set must restart the TTL", got, ok)
	}
}

func TestMemorySweep(t *testing.T) {
	m, clock := newTestMemory()
	m.Set("old1", 1)
	m.Set("old2", 2)

	clock.advance(testTTL / 2)
	m.Set("fresh", 3)

	clock.advance(testTTL/2 + time.Second)
	m.Sweep()

	if m.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1", m.Len())
	}
	if _, ok := m.Get("fresh"); !ok {
		t.Error("sweep must keep unexpired entries")
	}
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	m, _ := newTestMemory()
	m.Set("analytics:overview:7d", 1)
	m.Set("analytics:users:30d", 2)
	m.Set("session:abc", 3)

	m.InvalidatePrefix("analytics:")

	if _, ok := m.Get("analytics:overview:7d"); ok {
		t.Error("analytics:overview:7d must be gone")
	}
	if _, ok := m.Get("analytics:users:30d"); ok {
		t.Error("analytics:users:30d must be gone")
	}
	if _, ok := m.Get("session:abc"); !ok {
		t.Error("keys outside the prefix must survive")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m, _ := newTestMemory()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := "analytics:overview:7d"
				m.Set(key, n)
				m.Get(key)
				if j%50 == 0 {
					m.InvalidatePrefix("analytics:")
					m.Sweep()
				}
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
