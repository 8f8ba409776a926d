package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope under which all voxloop spans are
// emitted.
const tracerName = "github.com/voxloop-ai/voxloop"

// Tracer returns the voxloop tracer from the globally registered provider.
// Before [InitProvider] runs this is the OTel no-op tracer, so callers never
// need a nil check.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span on the voxloop tracer. The caller owns span.End.
// HTTP requests get a span per request from [Middleware]; calls get one span
// for their whole lifetime, opened at session start and ended at teardown.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" when ctx
// carries no recording span. It is the value exposed to API clients in the
// X-Correlation-ID header, which lets an operator paste a support ticket's
// ID straight into the tracing UI.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger annotated with the trace and span IDs
// from ctx, so per-call log lines can be joined against the call's trace.
// Without an active span it returns the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
