package tablestore

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/coldriver/tablestore/internal/metrics"
)

// MetricsHandler is a pluggable sink for per-attempt and per-operation
// measurements. Implementations must not block the caller for longer than a
// short bounded time.
type MetricsHandler = metrics.Handler

// AttemptRecord is an immutable completed-attempt measurement.
type AttemptRecord = metrics.AttemptRecord

// OperationRecord is an immutable completed-operation measurement.
type OperationRecord = metrics.OperationRecord

// NullMetricsHandler discards every record; it is the default sink.
type NullMetricsHandler = metrics.NullHandler

// OtelMetricsHandler maps attempt/operation records onto OpenTelemetry
// metric instruments registered against meter.
type OtelMetricsHandler = metrics.OtelHandler

// NewOtelMetricsHandler builds a MetricsHandler backed by meter's instruments.
func NewOtelMetricsHandler(meter metric.Meter) (*OtelMetricsHandler, error) {
	return metrics.NewOtelHandler(meter)
}
