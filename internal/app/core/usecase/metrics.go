package usecase

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"

type metrics struct {
	applied         metric.Int64Counter
	rejected        metric.Int64Counter
	malformed       metric.Int64Counter
	publishFailures metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	meter := provider.Meter(meterName)

	applied, err := meter.Int64Counter("ledger.transactions.applied",
		metric.WithDescription("transactions committed to the ledger"))
	if err != nil {
		return nil, fmt.Errorf("creating applied counter: %w", err)
	}
	rejected, err := meter.Int64Counter("ledger.transactions.rejected",
		metric.WithDescription("transactions rejected, by reason"))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	malformed, err := meter.Int64Counter("ledger.statement.malformed_entries",
		metric.WithDescription("stored transactions dropped from a statement because they are malformed"))
	if err != nil {
		return nil, fmt.Errorf("creating malformed counter: %w", err)
	}
	publishFailures, err := meter.Int64Counter("ledger.events.publish_failures",
		metric.WithDescription("transaction events that could not be published"))
	if err != nil {
		return nil, fmt.Errorf("creating publish failure counter: %w", err)
	}

	return &metrics{
		applied:         applied,
		rejected:        rejected,
		malformed:       malformed,
		publishFailures: publishFailures,
	}, nil
}

func (m *metrics) reject(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
