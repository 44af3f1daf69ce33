package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOtelHandlerRecordsAttemptAndOperationInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tablestore-test")

	h, err := NewOtelHandler(meter)
	require.NoError(t, err)

	h.HandleAttempt(AttemptRecord{Operation: "ReadStream", Status: "ok", IsStreaming: true, Duration: 5 * time.Millisecond})
	h.HandleOperation(OperationRecord{Operation: "ReadStream", Status: "ok", IsStreaming: true, Duration: 20 * time.Millisecond, AttemptCount: 2, FlowThrottleMs: 3})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	require.True(t, names["tablestore.attempt_count"])
	require.True(t, names["tablestore.attempt_duration_ms"])
	require.True(t, names["tablestore.operation_duration_ms"])
	require.True(t, names["tablestore.operation_attempt_count"])
	require.True(t, names["tablestore.flow_throttle_ms"])
}
