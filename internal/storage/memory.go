package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements CounterStore with an in-process map.
// It is meant for single-instance deployments and tests: counters are not
// shared between processes and are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

type counter struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

func (c *counter) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}

// NewMemoryStore creates a memory store that purges expired counters every
// cleanupInterval. A non-positive interval disables the janitor.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}

	return m
}

// IncrementWithExpiry adds amount to key, starting a new window when the key
// is missing or expired.
func (m *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	c, ok := m.counters[key]
	if !ok || c.expired(now) {
		c = &counter{}
		m.counters[key] = c
	}

	c.value += amount
	if c.expiresAt.IsZero() && ttl > 0 {
		c.expiresAt = now.Add(ttl)
	}

	return c.value, nil
}

func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	c, ok := m.counters[key]
	if !ok || c.expiresAt.IsZero() || c.expired(now) {
		return 0, nil
	}

	return c.expiresAt.Sub(now), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close stops the janitor. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

// Len returns the number of live counters.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purgeExpired()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) purgeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, c := range m.counters {
		if c.expired(now) {
			delete(m.counters, key)
		}
	}
}
