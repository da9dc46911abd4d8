package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all Parlance spans.
const tracerName = "github.com/MrWong99/parlance"

// Tracer returns the dialogue server's tracer from the globally registered
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span under the global tracer. Parlance produces two kinds
// of spans: one per instrumented HTTP request (see [Middleware]) and one per
// dialogue session, opened by the transport because the websocket route
// bypasses the middleware. The caller must End the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, or "" outside a span. It is
// surfaced to clients in the X-Correlation-ID header so a dialogue connection
// can be matched against server telemetry afterwards.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger derives a child of base carrying the active trace and span IDs, so
// session log lines join up with their spans. Outside a span it returns base
// unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
