package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript adds ARGV[1] to KEYS[1] and sets a millisecond expiry of
// ARGV[2] only when the key has none. Returns the new value.
var incrementScript = redis.NewScript(`
local current = redis.call("INCRBY", KEYS[1], ARGV[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return current
`)

// RedisStore implements CounterStore on a shared Redis instance. The
// increment and the conditional expiry run as one Lua script, so concurrent
// instances never observe a counter without an expiry.
type RedisStore struct {
	rdb       redis.UniversalClient
	ownClient bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromOptions dials a dedicated client that is closed with the store.
func NewRedisStoreFromOptions(opts *redis.Options) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(opts), ownClient: true}
}

func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	value, err := incrementScript.Run(ctx, s.rdb, []string{key}, amount, ms).Int64()
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return value, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	// -1 (no expiry) and -2 (missing) both map to zero.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.rdb.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrUnavailable, err)
}
