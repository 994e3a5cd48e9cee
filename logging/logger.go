// Package logging provides structured logging for the chat sync engine on top
// of log/slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

// Logger is our wrapper around slog.Logger with additional convenience methods
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level" toml:"level"`                   // debug, info, warn, error
	Format      string `json:"format" yaml:"format" toml:"format"`                // text, json
	AddSource   bool   `json:"add_source" yaml:"add_source" toml:"add_source"`    // whether to add source code information
	Environment string `json:"environment" yaml:"environment" toml:"environment"` // dev, prod, test
}

// DefaultConfig is used when no explicit configuration was installed.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: EnvProduction,
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Operation is a LogValuer naming the operation being logged.
type Operation string

func (o Operation) LogValue() slog.Value {
	return slog.StringValue(string(o))
}

// Component is a LogValuer naming the subsystem emitting a record.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

// Components used across the engine.
const (
	ComponentClient     Component = "client"
	ComponentConnection Component = "connection"
	ComponentKeepAlive  Component = "keepalive"
	ComponentPipeline   Component = "pipeline"
	ComponentProjection Component = "projection"
	ComponentStore      Component = "store"
	ComponentTransport  Component = "transport"
	ComponentREST       Component = "rest"
	ComponentTask       Component = "task"
	ComponentTyping     Component = "typing"
)

// SyncErrorValuer provides structured logging for SyncError
type SyncErrorValuer struct {
	*errors.SyncError
}

func (e SyncErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	if len(e.Metadata) > 0 {
		metadataAttrs := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			metadataAttrs = append(metadataAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Any("metadata", slog.GroupValue(metadataAttrs...)))
	}

	return slog.GroupValue(attrs...)
}

func parseLevel(s string) slog.Level {
	switch s {
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

func newHandler(w io.Writer, config Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}
	if config.Format == "text" || config.Environment == EnvDevelopment || config.Environment == "dev" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, config Config) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, config, parseLevel(config.Level)))}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Init installs a logger writing to w as the package and slog default.
func Init(w io.Writer, config Config) *Logger {
	logger := NewLoggerTo(w, config)
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	slog.SetDefault(logger.Logger)
	return logger
}

// Default returns the logger installed by Init, or a stderr logger using
// DefaultConfig.
func Default() *Logger {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l == nil {
		return Init(os.Stderr, DefaultConfig)
	}
	return l
}

// WithOperation creates a child logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op))}
}

// WithComponent creates a child logger with component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

type contextKey string

// Context keys picked up by WithContext.
const (
	ContextKeyRequestID    contextKey = "request_id"
	ContextKeyConnectionID contextKey = "connection_id"
)

// WithConnectionID returns a copy of ctx carrying the socket connection id.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, id)
}

// WithContext creates a child logger with values extracted from ctx.
func (l *Logger) WithContext(ctx context.Context, attrs ...slog.Attr) *Logger {
	contextAttrs := make([]any, 0, len(attrs)+2)

	if reqID := ctx.Value(ContextKeyRequestID); reqID != nil {
		contextAttrs = append(contextAttrs, slog.String("request_id", fmt.Sprintf("%v", reqID)))
	}
	if connID := ctx.Value(ContextKeyConnectionID); connID != nil {
		contextAttrs = append(contextAttrs, slog.String("connection_id", fmt.Sprintf("%v", connID)))
	}

	for _, attr := range attrs {
		contextAttrs = append(contextAttrs, attr)
	}

	return &Logger{Logger: l.With(contextAttrs...)}
}

// LogError logs an error with caller information and structured attributes
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+2)

	var syncErr *errors.SyncError
	if errors.As(err, &syncErr) {
		allAttrs = append(allAttrs, slog.Any("sync_error", SyncErrorValuer{SyncError: syncErr}))
	} else if err != nil {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		fn := runtime.FuncForPC(pc)
		allAttrs = append(allAttrs,
			slog.Group("caller",
				slog.String("file", file),
				slog.Int("line", line),
				slog.String("function", fn.Name()),
			),
		)
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.ErrorContext(ctx, msg, allAttrs...)
}

// LogOperation logs the start and end of an operation with duration tracking
func (l *Logger) LogOperation(ctx context.Context, op Operation, component Component, fn func() error) error {
	start := time.Now()
	opLogger := l.WithOperation(op).WithComponent(component)

	opLogger.DebugContext(ctx, "operation started")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.LogError(ctx, err, "operation failed",
			slog.Duration("duration", duration),
		)
		return err
	}

	opLogger.DebugContext(ctx, "operation completed",
		slog.Duration("duration", duration),
	)
	return nil
}
