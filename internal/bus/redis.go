package bus

import (
	"context"
	"fmt"

	"chatgate/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes and subscribes over Redis pub/sub.
type RedisBus struct {
	rdb       redis.UniversalClient
	channel   string
	ownClient bool
}

// NewRedisBus uses an existing client. The caller keeps ownership of rdb.
func NewRedisBus(rdb redis.UniversalClient, channel string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel}
}

func NewRedisBusFromConfig(cfg models.BusConfig) *RedisBus {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	return &RedisBus{rdb: rdb, channel: cfg.Channel, ownClient: true}
}

func (b *RedisBus) Publish(ctx context.Context, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before consuming, so
// an unreachable server is reported instead of silently waiting.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			handler([]byte(msg.Payload))
		}
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	if !b.ownClient {
		return nil
	}
	return b.rdb.Close()
}
