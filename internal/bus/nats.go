package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsSubscriptionBuffer = 1024

// NATSBus publishes and subscribes on a NATS subject named after the channel.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

func NewNATSBus(url, subject string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("chatgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

func (b *NATSBus) Publish(_ context.Context, payload []byte) error {
	if err := b.nc.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	ch := make(chan *nats.Msg, natsSubscriptionBuffer)
	sub, err := b.nc.ChanSubscribe(b.subject, ch)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	defer sub.Unsubscribe()

	closed := make(chan struct{})
	b.nc.SetClosedHandler(func(*nats.Conn) { close(closed) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return ErrSubscriptionClosed
		case msg := <-ch:
			handler(msg.Data)
		}
	}
}

func (b *NATSBus) Ping(context.Context) error {
	if !b.nc.IsConnected() {
		return errors.New("nats: " + b.nc.Status().String())
	}
	return nil
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}
