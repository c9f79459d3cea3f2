// Package logger provides structured logging through log/slog backed by a
// zap core. It also carries trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a structured logger for the given service and installs it as
// the slog default. dev selects zap's console encoder with colored levels;
// otherwise output is production JSON. The returned func flushes zap buffers.
func Init(service string, level slog.Level, dev bool) (*slog.Logger, func() error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}

	logger := slog.New(zapslog.NewHandler(zl.Core())).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)

	return logger, zl.Sync
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Unknown strings yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a token and timestamp.
// Format: "{token}-{unixNano}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// When no explicit ID is set, the active OpenTelemetry span's trace ID is used.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			tid = sc.TraceID().String()
		}
	}
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
