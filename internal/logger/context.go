package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

// WithLogger attaches a *zap.Logger to a context.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithRequestID stores the request ID picked by the HTTP layer.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns the attached logger, or the root logger tagged with
// the request ID when one is present. It never returns nil.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	l, ok := current()
	if !ok {
		return zap.NewNop()
	}
	if id := RequestID(ctx); id != "" {
		return l.With(zap.String("request_id", id))
	}
	return l
}

// New returns a child logger tagged with component. Before Init it is a
// no-op logger, so packages can build theirs at construction time.
func New(component string) *zap.Logger {
	l, ok := current()
	if !ok {
		return zap.NewNop()
	}
	return l.With(zap.String("component", component))
}

func Debug(msg string, fields ...zap.Field) {
	if l, ok := current(); ok {
		l.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...zap.Field) {
	if l, ok := current(); ok {
		l.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if l, ok := current(); ok {
		l.Warn(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if l, ok := current(); ok {
		l.Error(msg, fields...)
	}
}
