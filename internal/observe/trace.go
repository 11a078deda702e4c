package observe

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/MrWong99/kaudio"

// Tracer returns the kaudio tracer from the global provider.
func Tracer() trace.Tracer { return otel.Tracer(scope) }

// StartSpan starts a span on [Tracer]. End it when the work is done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the hex trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type attrsKey struct{}

// WithLogAttrs tags every line later logged through [Logger](ctx) with the
// given key/value pairs. Calls nest; inner pairs follow outer ones.
func WithLogAttrs(ctx context.Context, args ...any) context.Context {
	outer, _ := ctx.Value(attrsKey{}).([]any)
	return context.WithValue(ctx, attrsKey{}, append(slices.Clip(outer), args...))
}

// Logger returns slog.Default with the pairs from [WithLogAttrs] and, when
// ctx carries a span, its trace_id and span_id.
func Logger(ctx context.Context) *slog.Logger {
	args, _ := ctx.Value(attrsKey{}).([]any)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(slices.Clip(args),
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
