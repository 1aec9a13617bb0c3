package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel converts a configuration string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

// StructuredLogger provides structured JSON logging with context.
// Backed by zap; callers only see the Fields-based call shape.
type StructuredLogger struct {
	zl *zap.Logger
}

// NewStructuredLogger creates a new structured logger for a named service
func NewStructuredLogger(service, version string, level LogLevel) *StructuredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		zl = zap.NewNop()
	}

	return &StructuredLogger{
		zl: zl.With(
			zap.String("service", service),
			zap.String("version", version),
		),
	}
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{zl: zap.NewNop()}
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields and an optional cause
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields, errs ...error) {
	var err error
	if len(errs) > 0 {
		err = errs[0]
	}
	l.log(ctx, WarnLevel, message, fields, err)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
}

type ctxKey string

// RequestIDKey is the context key carrying a request correlation id
const RequestIDKey ctxKey = "request_id"

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	zf := make([]zap.Field, 0, len(fields)+2)
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}

	if ctx != nil {
		if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
			zf = append(zf, zap.String("request_id", requestID))
		}
	}

	if err != nil {
		zf = append(zf, zap.Error(err))
	}

	switch level {
	case DebugLevel:
		l.zl.Debug(message, zf...)
	case InfoLevel:
		l.zl.Info(message, zf...)
	case WarnLevel:
		l.zl.Warn(message, zf...)
	case ErrorLevel:
		l.zl.Error(message, zf...)
	case FatalLevel:
		l.zl.Fatal(message, zf...)
	}
}

// Sync flushes buffered log entries. Call before process exit.
func (l *StructuredLogger) Sync() error {
	return l.zl.Sync()
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.Debug(ctx, message, c.mergeFields(fields))
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.Info(ctx, message, c.mergeFields(fields))
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.Warn(ctx, message, c.mergeFields(fields))
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.Error(ctx, message, c.mergeFields(fields), err)
}

func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
