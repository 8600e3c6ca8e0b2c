package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type gatewayMetrics struct {
	active    metric.Int64UpDownCounter
	delivered metric.Int64Counter
	dropped   metric.Int64Counter
	closed    metric.Int64Counter
	received  metric.Int64Counter
}

func newGatewayMetrics() (*gatewayMetrics, error) {
	meter := otel.Meter("chatgate/gateway")

	active, err := meter.Int64UpDownCounter(
		"gateway.sessions.active",
		metric.WithDescription("Number of registered gateway sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	delivered, err := meter.Int64Counter(
		"gateway.events.delivered",
		metric.WithDescription("Number of bus events queued to sessions"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"gateway.events.dropped",
		metric.WithDescription("Number of frames discarded from full outbound queues"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	closed, err := meter.Int64Counter(
		"gateway.sessions.closed",
		metric.WithDescription("Number of sessions torn down, by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	received, err := meter.Int64Counter(
		"gateway.bus.events",
		metric.WithDescription("Number of events received from the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &gatewayMetrics{
		active:    active,
		delivered: delivered,
		dropped:   dropped,
		closed:    closed,
		received:  received,
	}, nil
}

func (m *gatewayMetrics) sessionOpened() {
	m.active.Add(context.Background(), 1)
}

func (m *gatewayMetrics) sessionClosed(reason CloseReason) {
	ctx := context.Background()
	m.active.Add(ctx, -1)
	m.closed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason.String())))
}

func (m *gatewayMetrics) eventDropped(reason CloseReason) {
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason.String())))
}

func (m *gatewayMetrics) eventReceived(delivered int) {
	ctx := context.Background()
	m.received.Add(ctx, 1)
	if delivered > 0 {
		m.delivered.Add(ctx, int64(delivered))
	}
}
