package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}

	s := NewRedisStoreFromOptions(&redis.Options{Addr: addr})
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Ping(ctx))
	return s
}

func testKey(name string) string {
	return fmt.Sprintf("chatgate-test:%s:%s", name, uuid.NewString())
}

func TestRedisStore_IncrementWithExpiry(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	key := testKey("incr")

	v, err := s.IncrementWithExpiry(ctx, key, 1, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.IncrementWithExpiry(ctx, key, 4, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	ttl, err := s.TTL(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Second)
}

func TestRedisStore_ExpiryIsNotExtended(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	key := testKey("noextend")

	_, err := s.IncrementWithExpiry(ctx, key, 1, 2*time.Second)
	require.NoError(t, err)

	// A later call with a longer ttl must not move the window end.
	_, err = s.IncrementWithExpiry(ctx, key, 1, time.Hour)
	require.NoError(t, err)

	ttl, err := s.TTL(ctx, key)
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 2*time.Second)
}

func TestRedisStore_TTLMissingKey(t *testing.T) {
	s := newRedisTestStore(t)

	ttl, err := s.TTL(context.Background(), testKey("missing"))
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestRedisStore_ConcurrentIncrements(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	key := testKey("concurrent")

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementWithExpiry(ctx, key, 1, 10*time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.IncrementWithExpiry(ctx, key, 0, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), v)
}

func TestRedisStore_Unreachable(t *testing.T) {
	s := NewRedisStoreFromOptions(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.IncrementWithExpiry(ctx, "k", 1, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}

func TestRedisStore_BorrowedClientNotClosed(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	s := NewRedisStore(rdb)
	require.NoError(t, s.Close())

	// The client must still be usable (not closed) after the store is closed.
	assert.NotErrorIs(t, rdb.Ping(context.Background()).Err(), redis.ErrClosed)
}
