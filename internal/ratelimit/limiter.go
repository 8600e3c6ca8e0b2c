// Package ratelimit provides the admission control shared by every entry point.
// Limits are fixed windows kept in a shared counter store, so every gateway
// and REST instance enforces the same global budget per (bucket, identity).
// It also includes HTTP middleware that sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatgate/internal/models"
	"chatgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrStoreUnavailable means no decision could be made. Callers fail closed.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrUnknownBucket    = errors.New("unknown rate limit bucket")
	ErrInvalidCost      = errors.New("rate limit cost must be at least 1")
)

// Checker is the admission contract consumed by the HTTP middleware and the
// gateway handler. Implementations must be safe for concurrent use.
type Checker interface {
	Check(ctx context.Context, bucket, identity string, cost int64) (Decision, error)
}

// Bucket is a named fixed-window policy.
type Bucket struct {
	Limit  int64
	Window time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64         // max(0, limit - count)
	ResetAt    time.Time     // end of the current window
	RetryAfter time.Duration // meaningful only when denied
}

// Limiter implements Checker on a storage.CounterStore.
type Limiter struct {
	store     storage.CounterStore
	keyPrefix string
	buckets   map[string]Bucket
	now       func() time.Time
	decisions metric.Int64Counter
}

// NewLimiter creates a limiter for the configured buckets. Counter keys are
// "<keyPrefix><bucket>:<identity>".
func NewLimiter(store storage.CounterStore, cfg models.RateLimitConfig) (*Limiter, error) {
	buckets := make(map[string]Bucket, len(cfg.Buckets))
	for name, b := range cfg.Buckets {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		buckets[name] = Bucket{Limit: b.Limit, Window: b.Window}
	}

	decisions, err := otel.Meter("chatgate/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of admission decisions by bucket and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		store:     store,
		keyPrefix: cfg.KeyPrefix,
		buckets:   buckets,
		now:       time.Now,
		decisions: decisions,
	}, nil
}

// Bucket returns the policy of a named bucket.
func (l *Limiter) Bucket(name string) (Bucket, bool) {
	b, ok := l.buckets[name]
	return b, ok
}

// Buckets returns a copy of every configured policy.
func (l *Limiter) Buckets() map[string]Bucket {
	out := make(map[string]Bucket, len(l.buckets))
	for name, b := range l.buckets {
		out[name] = b
	}
	return out
}

// Check charges cost against (bucket, identity) and reports whether the
// request is admitted. The charge is kept even when denied; a client that
// keeps retrying inside the window stays denied until the window ends.
func (l *Limiter) Check(ctx context.Context, bucket, identity string, cost int64) (Decision, error) {
	policy, ok := l.buckets[bucket]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	if cost < 1 {
		return Decision{}, fmt.Errorf("%w: got %d", ErrInvalidCost, cost)
	}

	key := l.keyPrefix + bucket + ":" + identity

	count, err := l.store.IncrementWithExpiry(ctx, key, cost, policy.Window)
	if err != nil {
		l.record(ctx, bucket, "error")
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		l.record(ctx, bucket, "error")
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if ttl <= 0 {
		ttl = policy.Window
	}

	remaining := policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
		l.record(ctx, bucket, "denied")
	} else {
		l.record(ctx, bucket, "allowed")
	}

	return d, nil
}

func (l *Limiter) record(ctx context.Context, bucket, outcome string) {
	l.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("outcome", outcome),
	))
}
