package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/voicedeck/voicedeck"

// Tracer resolves the voicedeck tracer from the global provider on every
// call, so it picks up whatever [InitProvider] installed.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is shorthand for Tracer().Start. End the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the hex trace id of the span in ctx, or "" outside a
// trace. The console echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type sessionKey struct{}

// WithSessionID returns a copy of ctx carrying the live session id. Loggers
// obtained through [Logger] include it as "session_id".
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the live session id stored in ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Logger is slog.Default with trace_id, span_id and session_id attached
// for whichever of them ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
