// Package observability provides structured logging and Prometheus metrics
// for the generation pipeline.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with request correlation and API-key
// redaction, built on Go's slog package.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text".
	Format string `yaml:"format"`

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer `yaml:"-"`
}

type contextKey string

// RequestIDKey is the context key carrying a per-invocation request id.
const RequestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

var defaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`),
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`),
}

// NewLogger creates a Logger from the given config.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: defaultRedactPatterns,
	}
}

// NopLogger returns a logger that discards all output. Components accept it
// so callers are never forced to configure logging.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a Logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return NopLogger().With(args...)
	}
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		args = append(args, "request_id", id)
	}
	for i := 1; i < len(args); i += 2 {
		if s, ok := args[i].(string); ok {
			args[i] = l.redact(s)
		}
	}
	l.logger.Log(ctx, level, l.redact(msg), args...)
}

func (l *Logger) redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "$1=[REDACTED]")
	}
	return s
}
