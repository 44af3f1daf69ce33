package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelInstruments mirrors a doltMetrics-style package-level block:
// instruments registered once against a otel.Meter at construction, so they
// forward to the real provider once the caller wires one in.
type otelInstruments struct {
	attemptCount    metric.Int64Counter
	attemptDuration metric.Float64Histogram
	opDuration      metric.Float64Histogram
	opAttempts      metric.Int64Histogram
	flowThrottleMs  metric.Float64Histogram
}

// OtelHandler maps operation/attempt records onto otel metric instruments.
// It stops at the metric.Meter boundary.
type OtelHandler struct {
	inst otelInstruments
}

// NewOtelHandler builds a Handler backed by meter's instruments.
func NewOtelHandler(meter metric.Meter) (*OtelHandler, error) {
	var inst otelInstruments
	var err error

	inst.attemptCount, err = meter.Int64Counter("tablestore.attempt_count",
		metric.WithDescription("RPC attempts issued per operation"), metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	inst.attemptDuration, err = meter.Float64Histogram("tablestore.attempt_duration_ms",
		metric.WithDescription("Duration of a single RPC attempt"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	inst.opDuration, err = meter.Float64Histogram("tablestore.operation_duration_ms",
		metric.WithDescription("Duration of a completed logical operation"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	inst.opAttempts, err = meter.Int64Histogram("tablestore.operation_attempt_count",
		metric.WithDescription("Attempts taken by a completed logical operation"), metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	inst.flowThrottleMs, err = meter.Float64Histogram("tablestore.flow_throttle_ms",
		metric.WithDescription("Time an operation spent waiting between attempts"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &OtelHandler{inst: inst}, nil
}

func (h *OtelHandler) HandleAttempt(r AttemptRecord) {
	attrs := metric.WithAttributes(
		attribute.String("operation", r.Operation),
		attribute.String("status", r.Status),
		attribute.Bool("streaming", r.IsStreaming),
	)
	h.inst.attemptCount.Add(context.Background(), 1, attrs)
	h.inst.attemptDuration.Record(context.Background(), float64(r.Duration.Milliseconds()), attrs)
}

func (h *OtelHandler) HandleOperation(r OperationRecord) {
	attrs := metric.WithAttributes(
		attribute.String("operation", r.Operation),
		attribute.String("status", r.Status),
		attribute.Bool("streaming", r.IsStreaming),
	)
	h.inst.opDuration.Record(context.Background(), float64(r.Duration.Milliseconds()), attrs)
	h.inst.opAttempts.Record(context.Background(), int64(r.AttemptCount), attrs)
	h.inst.flowThrottleMs.Record(context.Background(), r.FlowThrottleMs, attrs)
}

var _ Handler = (*OtelHandler)(nil)
