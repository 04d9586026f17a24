package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// useObserver swaps the global logger for an observer until the test ends.
func useObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, observed := observer.New(zapcore.DebugLevel)

	original := log
	Set(zap.New(core))
	t.Cleanup(func() { Set(original) })
	return observed
}

func TestInit(t *testing.T) {
	original := log
	defer Set(original)

	t.Run("Production", func(t *testing.T) {
		Init("production")
		assert.NotNil(t, log)
	})

	t.Run("Development", func(t *testing.T) {
		Init("development")
		assert.NotNil(t, log)
	})

	t.Run("DebugLevel", func(t *testing.T) {
		t.Setenv("EASYSWITCH_DEBUG", "true")
		Init("development")
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})
}

func TestL(t *testing.T) {
	original := log
	defer Set(original)

	Set(nil)
	t.Setenv("APP_ENV", "test")

	l := L()
	assert.NotNil(t, l)
	assert.NotNil(t, log)
}

func TestContextFunctions(t *testing.T) {
	ctx := context.Background()

	t.Run("RequestID", func(t *testing.T) {
		withID := WithRequestID(ctx, "req-1")
		assert.Equal(t, "req-1", RequestIDFrom(withID))
		assert.Equal(t, "", RequestIDFrom(ctx))
	})

	t.Run("TraceID", func(t *testing.T) {
		withID := WithTraceID(ctx, "trace-1")
		assert.Equal(t, "trace-1", TraceIDFrom(withID))
		assert.Equal(t, "", TraceIDFrom(ctx))
	})
}

func TestFromCtx(t *testing.T) {
	observed := useObserver(t)

	t.Run("WithIDs", func(t *testing.T) {
		ctx := WithTraceID(WithRequestID(context.Background(), "req-abc"), "trace-xyz")
		FromCtx(ctx).Info("with ids")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		assert.Equal(t, "req-abc", fields["request_id"])
		assert.Equal(t, "trace-xyz", fields["trace_id"])
	})

	t.Run("WithoutIDs", func(t *testing.T) {
		FromCtx(context.Background()).Info("without ids")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		_, ok := logs[0].ContextMap()["request_id"]
		assert.False(t, ok)
	})
}

func TestSync(t *testing.T) {
	assert.NotPanics(t, func() {
		Sync()
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFrom(r.Context()))
	}))

	t.Run("Generates ID when missing", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/paystack", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Preserves existing ID", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/paystack", nil)
		req.Header.Set("X-Request-ID", "test-id-123")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, "test-id-123", w.Header().Get("X-Request-ID"))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  zapcore.Level
	}{
		{"rejected webhook", "/webhooks/airtel", http.StatusUnauthorized, zapcore.WarnLevel},
		{"server error", "/webhooks/airtel", http.StatusInternalServerError, zapcore.ErrorLevel},
		{"processed webhook", "/webhooks/airtel", http.StatusOK, zapcore.InfoLevel},
		{"health probe", "/health", http.StatusOK, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed := useObserver(t)

			handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ok"))
			}))
			req := httptest.NewRequest("POST", tt.path, nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			logs := observed.TakeAll()
			if assert.Len(t, logs, 1) {
				assert.Equal(t, "incoming request", logs[0].Message)
				assert.Equal(t, tt.level, logs[0].Level)
				assert.Equal(t, tt.path, logs[0].ContextMap()["path"])
				assert.EqualValues(t, tt.status, logs[0].ContextMap()["status"])
				assert.EqualValues(t, 2, logs[0].ContextMap()["bytes"])
			}
		})
	}
}
