package observability

import (
	"context"
	"time"

	"chatgate/internal/bus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedBus wraps a bus.Bus, tracing publishes and counting events in
// both directions.
type InstrumentedBus struct {
	inner     bus.Bus
	backend   string
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	published metric.Int64Counter
	received  metric.Int64Counter
	failures  metric.Int64Counter
}

var _ bus.Bus = (*InstrumentedBus)(nil)

func NewInstrumentedBus(inner bus.Bus, backend string) (*InstrumentedBus, error) {
	meter := otel.Meter("chatgate/bus")

	duration, err := meter.Float64Histogram(
		"bus.publish.duration",
		metric.WithDescription("Duration of event publishes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	published, err := meter.Int64Counter(
		"bus.events.published",
		metric.WithDescription("Events published to the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	received, err := meter.Int64Counter(
		"bus.events.received",
		metric.WithDescription("Events delivered to this instance by the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"bus.publish.errors",
		metric.WithDescription("Failed event publishes"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedBus{
		inner:     inner,
		backend:   backend,
		tracer:    otel.Tracer("chatgate/bus"),
		duration:  duration,
		published: published,
		received:  received,
		failures:  failures,
	}, nil
}

func (b *InstrumentedBus) Publish(ctx context.Context, payload []byte) error {
	ctx, span := b.tracer.Start(ctx, "bus.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", b.backend),
			attribute.Int("messaging.message.body.size", len(payload)),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("backend", b.backend))
	start := time.Now()
	err := b.inner.Publish(ctx, payload)
	b.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		b.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	b.published.Add(ctx, 1, attrs)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (b *InstrumentedBus) Subscribe(ctx context.Context, handler bus.Handler) error {
	attrs := metric.WithAttributes(attribute.String("backend", b.backend))
	return b.inner.Subscribe(ctx, func(payload []byte) {
		b.received.Add(ctx, 1, attrs)
		handler(payload)
	})
}

func (b *InstrumentedBus) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
