package policy

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dativo-io/verity/internal/policy"

var (
	verdictCounter    metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	var err error
	verdictCounter, err = otel.Meter(meterName).Int64Counter(
		"verity.gate.verdicts",
		metric.WithDescription("Action safety gate verdicts"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

// recordVerdict counts one verdict. Unlisted kinds share the "unlisted" label.
func recordVerdict(ctx context.Context, kind string, valid bool) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	if !ActionKind(kind).Valid() {
		kind = "unlisted"
	}
	verdictCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", kind),
		attribute.Bool("valid", valid),
	))
}
