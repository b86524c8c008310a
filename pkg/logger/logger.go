// Package logger owns the process-wide zap logger.
//
// Components take a child logger once, at construction, tagged with their
// name:
//
//	log := logger.Get().With(zap.String("component", "engine"))
//
// Code that runs on behalf of a request, job or schedule derives its logger
// from the context instead, so every line carries the ids needed to follow a
// sync across the API, the engine and the scheduler.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

type contextKey string

// Context keys read by WithContext. Each value is logged under the key's
// own name.
const (
	RequestIDKey  contextKey = "request_id"
	ConnectorKey  contextKey = "connector_id"
	JobIDKey      contextKey = "job_id"
	ScheduleIDKey contextKey = "schedule_id"
)

// contextFields is the order fields are attached in.
var contextFields = []contextKey{RequestIDKey, ConnectorKey, JobIDKey, ScheduleIDKey}

// Config selects level, encoding and sinks. It mirrors the logging section
// of the orbit config file.
type Config struct {
	Level       string   `yaml:"level" json:"level"`
	Development bool     `yaml:"development" json:"development"`
	Encoding    string   `yaml:"encoding" json:"encoding"` // json or console
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

// Init builds a logger from cfg and installs it globally.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// Replace installs l and returns a func that puts the previous logger back.
// Tests use it to route component logs into zaptest.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := globalLogger
	globalLogger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	}
}

func build(cfg Config) (*zap.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.MessageKey = "message"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, creating an info-level JSON logger on
// first use when Init was never called.
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		l, err := build(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		globalLogger = l
	}
	return globalLogger
}

// ContextWithRequest tags ctx with the id of an API request.
func ContextWithRequest(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithJob tags ctx with a sync job and its connector.
func ContextWithJob(ctx context.Context, jobID, connectorID string) context.Context {
	ctx = context.WithValue(ctx, JobIDKey, jobID)
	return context.WithValue(ctx, ConnectorKey, connectorID)
}

// WithContext returns the global logger with every id found in ctx.
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()
	fields := make([]zap.Field, 0, len(contextFields))
	for _, key := range contextFields {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Debug logs on the global logger
func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }

// Info logs on the global logger
func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }

// Warn logs on the global logger
func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }

// Error logs on the global logger
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

// Fatal logs on the global logger and exits
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// With returns a child of the global logger
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes the global logger if one was built.
func Sync() error {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
