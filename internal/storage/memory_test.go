package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMemoryStore returns a store without a janitor and with a controllable clock.
func newTestMemoryStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore(0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	t.Cleanup(func() { store.Close() })
	return store, &now
}

func TestMemoryStore_IncrementWithExpiry(t *testing.T) {
	store, _ := newTestMemoryStore(t)
	ctx := context.Background()

	v, err := store.IncrementWithExpiry(ctx, "k", 1, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = store.IncrementWithExpiry(ctx, "k", 3, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	ttl, err := store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ttl)
}

func TestMemoryStore_ExpiryIsNotExtended(t *testing.T) {
	store, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := store.IncrementWithExpiry(ctx, "k", 1, 5*time.Second)
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	_, err = store.IncrementWithExpiry(ctx, "k", 1, 5*time.Second)
	require.NoError(t, err)

	ttl, err := store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ttl)
}

func TestMemoryStore_WindowResetsAfterExpiry(t *testing.T) {
	store, now := newTestMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.IncrementWithExpiry(ctx, "k", 1, time.Second)
		require.NoError(t, err)
	}

	*now = now.Add(time.Second)

	ttl, err := store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	v, err := store.IncrementWithExpiry(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMemoryStore_TTLMissingKey(t *testing.T) {
	store, _ := newTestMemoryStore(t)

	ttl, err := store.TTL(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store, now := newTestMemoryStore(t)
	ctx := context.Background()

	_, err := store.IncrementWithExpiry(ctx, "short", 1, time.Second)
	require.NoError(t, err)
	_, err = store.IncrementWithExpiry(ctx, "long", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	*now = now.Add(2 * time.Second)
	store.purgeExpired()

	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := store.IncrementWithExpiry(ctx, "shared", 1, time.Minute)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := store.IncrementWithExpiry(ctx, "shared", 0, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), v)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close must be idempotent")

	ctx := context.Background()
	_, err := store.IncrementWithExpiry(ctx, "k", 1, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store, _ := newTestMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.IncrementWithExpiry(ctx, "k", 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkMemoryStore_IncrementWithExpiry(b *testing.B) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.IncrementWithExpiry(ctx, fmt.Sprintf("k%d", i%100), 1, time.Minute)
	}
}
