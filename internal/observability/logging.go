// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	GlobalLogger = NewLogger(os.Stderr, os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	Generation    LogContextKey = "generation"
)

// ctxHandler adds context values to every record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(CorrelationID).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if gen, ok := ctx.Value(Generation).(uint64); ok {
		r.AddAttrs(slog.Uint64("generation", gen))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

// NewLogger builds a JSON logger in production and a text logger elsewhere.
func NewLogger(w io.Writer, env, level string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if env == "production" || env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(&ctxHandler{handler})}
}

// Configure replaces the global logger. Call it once at startup after config is loaded.
func Configure(env, level string) {
	GlobalLogger = NewLogger(os.Stderr, env, level)
	slog.SetDefault(GlobalLogger.Logger)
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns ctx unchanged when it already carries a correlation ID.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if ExtractCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// WithGeneration tags the context with a store or list generation token.
func WithGeneration(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, Generation, gen)
}

// ComponentLogger provides structured logging for one component of the sync core.
type ComponentLogger struct {
	component string
	logger    *Logger
}

// NewComponentLogger creates a ComponentLogger bound to the global logger.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

// WithLogger binds the component logger to a specific logger, mainly for tests.
func (l *ComponentLogger) WithLogger(logger *Logger) *ComponentLogger {
	return &ComponentLogger{component: l.component, logger: logger}
}

func (l *ComponentLogger) base() *Logger {
	if l.logger != nil {
		return l.logger
	}
	return GlobalLogger
}

func (l *ComponentLogger) attrs(operation string, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// Debug logs a low-volume diagnostic event such as a discarded stale response.
func (l *ComponentLogger) Debug(ctx context.Context, operation string, fields map[string]interface{}) {
	l.base().DebugContext(ctx, l.component+" "+operation, l.attrs(operation, fields)...)
}

// Info logs a completed operation.
func (l *ComponentLogger) Info(ctx context.Context, operation string, fields map[string]interface{}) {
	l.base().InfoContext(ctx, l.component+" "+operation, l.attrs(operation, fields)...)
}

// Warn logs a recovered failure, e.g. a rolled back mutation.
func (l *ComponentLogger) Warn(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := l.attrs(operation, fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.base().WarnContext(ctx, l.component+" "+operation, attrs...)
}

// Error logs a failed operation.
func (l *ComponentLogger) Error(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := l.attrs(operation, fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.base().ErrorContext(ctx, l.component+" "+operation, attrs...)
}
