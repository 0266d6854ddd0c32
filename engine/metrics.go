package engine

import (
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope for waypoint metrics and traces.
const scopeName = "github.com/xraph/waypoint"

// metrics holds the engine's OTel instruments. Instruments are created
// once at engine construction; on error the OTel API returns noop
// instruments, so the engine degrades gracefully without a configured
// MeterProvider.
type metrics struct {
	started          metric.Int64Counter
	completed        metric.Int64Counter
	failed           metric.Int64Counter
	cancelled        metric.Int64Counter
	signalsDelivered metric.Int64Counter
	signalsRejected  metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}

	m.started, _ = meter.Int64Counter(
		"waypoint.instance.started",
		metric.WithDescription("Workflow instances started"),
		metric.WithUnit("{instance}"),
	)
	m.completed, _ = meter.Int64Counter(
		"waypoint.instance.completed",
		metric.WithDescription("Workflow instances completed successfully"),
		metric.WithUnit("{instance}"),
	)
	m.failed, _ = meter.Int64Counter(
		"waypoint.instance.failed",
		metric.WithDescription("Workflow instances failed terminally"),
		metric.WithUnit("{instance}"),
	)
	m.cancelled, _ = meter.Int64Counter(
		"waypoint.instance.cancelled",
		metric.WithDescription("Workflow instances cancelled"),
		metric.WithUnit("{instance}"),
	)
	m.signalsDelivered, _ = meter.Int64Counter(
		"waypoint.signal.delivered",
		metric.WithDescription("Signals accepted by a waiting instance"),
		metric.WithUnit("{signal}"),
	)
	m.signalsRejected, _ = meter.Int64Counter(
		"waypoint.signal.rejected",
		metric.WithDescription("Signals rejected by validation"),
		metric.WithUnit("{signal}"),
	)

	return m
}
