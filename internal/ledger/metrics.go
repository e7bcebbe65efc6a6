package ledger

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dativo-io/verity/internal/ledger"

var (
	recordCounter     metric.Int64Counter
	evictionCounter   metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	recordCounter, err = meter.Int64Counter(
		"verity.ledger.records",
		metric.WithDescription("External calls recorded in the ledger"),
	)
	if err != nil {
		return
	}
	evictionCounter, err = meter.Int64Counter(
		"verity.ledger.evictions",
		metric.WithDescription("Ledger records evicted at the retention bound"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

func recordMetrics(ctx context.Context, endpoint string, status Status, evicted bool) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	recordCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", string(status)),
	))
	if evicted {
		evictionCounter.Add(ctx, 1)
	}
}
