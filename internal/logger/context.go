package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	traceIDKey   ctxKey = "trace_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID tags ctx with the trace id of a payment operation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns the global logger with request_id and trace_id added when
// present in ctx.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if traceID := TraceIDFrom(ctx); traceID != "" {
		l = l.With(zap.String("trace_id", traceID))
	}
	return l
}
