package logger

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured entries tagged with service, hostname, action and request_id
type Logger struct {
	service  string
	hostname string
	zl       *zap.Logger
}

// New builds a logger for the given service. format is "json" or "console".
func New(service, level, format string) (*Logger, error) {
	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zcfg.DisableStacktrace = true

	hostname, _ := os.Hostname()
	zl, err := zcfg.Build(zap.Fields(
		zap.String("service", service),
		zap.String("hostname", hostname),
	))
	if err != nil {
		return nil, err
	}

	return &Logger{service: service, hostname: hostname, zl: zl}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// With returns a child logger carrying extra fields on every entry
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{service: l.service, hostname: l.hostname, zl: l.zl.With(toFields(fields)...)}
}

func (l *Logger) Debug(action, message, requestID string, fields map[string]interface{}) {
	l.zl.Debug(message, l.base(action, requestID, fields)...)
}

func (l *Logger) Info(action, message, requestID string, fields map[string]interface{}) {
	l.zl.Info(message, l.base(action, requestID, fields)...)
}

func (l *Logger) Warn(action, message, requestID string, fields map[string]interface{}) {
	l.zl.Warn(message, l.base(action, requestID, fields)...)
}

// Error logs at error level. err may be nil.
func (l *Logger) Error(action, message, requestID string, err error, fields map[string]interface{}) {
	zf := l.base(action, requestID, fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.zl.Error(message, zf...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) base(action, requestID string, fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf, zap.String("action", action))
	if requestID != "" {
		zf = append(zf, zap.String("request_id", requestID))
	}
	return append(zf, toFields(fields)...)
}

func toFields(fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

// GenerateRequestID returns a new request id
func GenerateRequestID() string {
	return uuid.New().String()
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores the request id in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, or "" if absent
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
