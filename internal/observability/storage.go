package observability

import (
	"context"
	"errors"
	"time"

	"chatgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a storage.CounterStore with OpenTelemetry tracing
// and metrics. Counter keys embed client addresses, so they are never recorded
// as attributes.
type InstrumentedStore struct {
	inner    storage.CounterStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.CounterStore = (*InstrumentedStore)(nil)

// NewInstrumentedStore creates a store wrapper that records a span, a latency
// sample and, on failure, an error count for every call.
func NewInstrumentedStore(inner storage.CounterStore) (*InstrumentedStore, error) {
	tracer := otel.Tracer("chatgate/storage")
	meter := otel.Meter("chatgate/storage")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := []attribute.KeyValue{attribute.String("operation", operation)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("unavailable", errors.Is(err, storage.ErrUnavailable)))
	}
	s.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs[0]))

	if err != nil {
		s.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ctx, span := s.startSpan(ctx, "IncrementWithExpiry",
		attribute.Int64("store.amount", amount),
		attribute.String("store.ttl", ttl.String()),
	)
	start := time.Now()
	count, err := s.inner.IncrementWithExpiry(ctx, key, amount, ttl)
	if err == nil {
		span.SetAttributes(attribute.Int64("store.count", count))
	}
	s.record(ctx, span, "IncrementWithExpiry", start, err)
	return count, err
}

func (s *InstrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := s.startSpan(ctx, "TTL")
	start := time.Now()
	ttl, err := s.inner.TTL(ctx, key)
	s.record(ctx, span, "TTL", start, err)
	return ttl, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
