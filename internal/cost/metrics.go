package cost

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const costMeterName = "github.com/dativo-io/steward/internal/cost"

var (
	costRequestHistogram  metric.Float64Histogram
	costMetricsOnce       sync.Once
	costMetricsRegistered bool
)

func initCostMetrics() {
	var err error
	costRequestHistogram, err = otel.Meter(costMeterName).Float64Histogram(
		"steward.cost.request",
		metric.WithDescription("Cost in USD per model request"),
		metric.WithUnit("usd"),
	)
	if err != nil {
		return
	}
	costMetricsRegistered = true
}

// RecordCostMetrics records the cost of one executed request.
func RecordCostMetrics(ctx context.Context, costUSD float64, agentType, model string, downgraded bool) {
	costMetricsOnce.Do(initCostMetrics)
	if !costMetricsRegistered {
		return
	}
	costRequestHistogram.Record(ctx, costUSD, metric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("model", model),
		attribute.Bool("downgraded", downgraded),
	))
}
