package bus

import (
	"context"
	"sync"
)

const defaultMemoryBuffer = 1024

// MemoryBus is an in-process bus for single-instance deployments and tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]*memorySub
	nextID int
	buffer int
	closed bool
	done   chan struct{}
}

type memorySub struct {
	ch   chan []byte
	gone chan struct{}
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer < 1 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBus{
		subs:   make(map[int]*memorySub),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// Publish hands the payload to every current subscriber. It blocks while a
// subscriber's buffer is full, so ordering is kept for every subscriber.
func (b *MemoryBus) Publish(ctx context.Context, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	data := make([]byte, len(payload))
	copy(data, payload)

	for _, s := range subs {
		select {
		case s.ch <- data:
		case <-s.gone:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.nextID
	b.nextID++
	sub := &memorySub{
		ch:   make(chan []byte, b.buffer),
		gone: make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.gone)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return ErrSubscriptionClosed
		case payload := <-sub.ch:
			handler(payload)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
