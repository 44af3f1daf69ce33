package tablestore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OTel tracer for client-level spans. It uses the global
// provider, which is a no-op until the caller installs a real one.
var tracer = otel.Tracer("github.com/coldriver/tablestore")

// tableSpanAttrs returns the fixed attributes shared by every span a Table
// operation opens.
func (t *Table) tableSpanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tablestore.table", t.name),
		attribute.String("tablestore.app_profile", t.appProfileID),
	}
}

// endSpan records an error, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Table) startSpan(ctx context.Context, name string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append(t.tableSpanAttrs(), extra...)
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
