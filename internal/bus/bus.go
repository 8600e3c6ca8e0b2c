// Package bus carries server events from stateless producers to every gateway
// instance. Events are JSON-encoded models.ServerPayload values published on a
// single named channel; every subscriber receives every event in publish order.
package bus

import (
	"context"
	"errors"
	"fmt"

	"chatgate/internal/models"
)

var (
	ErrClosed             = errors.New("bus closed")
	ErrSubscriptionClosed = errors.New("bus subscription closed")
)

// Handler is invoked once per received event. It must not block for long;
// the gateway only enqueues work in it.
type Handler func(payload []byte)

type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

type Subscriber interface {
	// Subscribe delivers every event to handler until ctx is cancelled or the
	// subscription fails. It returns nil on cancellation.
	Subscribe(ctx context.Context, handler Handler) error
}

// Bus is a publish/subscribe backend.
type Bus interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}

// PublishPayload encodes p and publishes it.
func PublishPayload(ctx context.Context, pub Publisher, p models.ServerPayload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.Op, err)
	}
	return nil
}

// New creates the bus backend selected by cfg.
func New(cfg models.BusConfig) (Bus, error) {
	switch cfg.Type {
	case models.BusTypeMemory:
		return NewMemoryBus(defaultMemoryBuffer), nil
	case models.BusTypeRedis:
		return NewRedisBusFromConfig(cfg), nil
	case models.BusTypeNATS:
		return NewNATSBus(cfg.NATSURL, cfg.Channel)
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.Type)
	}
}
