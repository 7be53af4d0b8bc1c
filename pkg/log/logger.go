// Package log provides structured logging utilities for gospv services.
// It wraps the standard library's slog package with SPV-specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
)

// ContextWithRequestID stores a request id for WithContext to pick up.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithTraceID stores a trace id for WithContext to pick up.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Service returns the service name the logger was created with
func (l *Logger) Service() string {
	return l.service
}

// WithContext returns a logger with request and trace ids from ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if reqID := ctx.Value(requestIDKey); reqID != nil {
		logger = logger.With("request_id", reqID)
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		logger = logger.With("trace_id", traceID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithTx returns a logger scoped to a transaction hash in display order
func (l *Logger) WithTx(txHash string) *Logger {
	return l.WithFields("tx_hash", txHash)
}

// WithRequest returns a logger scoped to a proof request
func (l *Logger) WithRequest(requestID, txHash string, confirmations int) *Logger {
	return l.WithFields(
		"request_id", requestID,
		"tx_hash", txHash,
		"required_confirmations", confirmations,
	)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration.Nanoseconds(),
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count int64, duration time.Duration) {
	if duration <= 0 {
		return
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ns", duration.Nanoseconds(),
		"throughput_ops_sec", float64(count)/duration.Seconds(),
	)
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogVerification logs the outcome of a proof verification
func (l *Logger) LogVerification(txHash, status string, blockHeight int64, confirmations int, duration time.Duration) {
	level := slog.LevelInfo
	if status != "verified" {
		level = slog.LevelWarn
	}
	l.Log(context.Background(), level, "proof verification",
		"tx_hash", txHash,
		"status", status,
		"block_height", blockHeight,
		"confirmations", confirmations,
		"duration_ms", float64(duration.Nanoseconds())/1e6,
	)
}
