package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"drivesync/domain/drive"
)

// Config holds logging configuration
type Config struct {
	Level  string // debug, info, warn or error
	Format string // json or text
	Output string // stdout or stderr
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// Logger wraps slog.Logger with additional context methods
type Logger struct {
	*slog.Logger
}

type contextKey string

const requestIDKey contextKey = "request_id"

// NewLogger creates a new structured logger from configuration
func NewLogger(cfg *Config) *Logger {
	var writer io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	return NewLoggerWithWriter(cfg, writer)
}

// NewLoggerWithWriter creates a logger that writes to w. Output in cfg is ignored.
func NewLoggerWithWriter(cfg *Config, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("timestamp", a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent adds component context to logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithScope adds the drive scope fields to logger
func (l *Logger) WithScope(scope drive.DriveScope) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			"tenant_id", scope.TenantID,
			"site_id", scope.SiteID,
			"drive_id", scope.DriveID,
		),
	}
}

// ContextWithRequestID stores a request id for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithContext adds request context to logger (if available)
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		return &Logger{
			Logger: l.Logger.With("request_id", requestID),
		}
	}
	return l
}

// Performance logs performance metrics
func (l *Logger) Performance(operation string, duration time.Duration, attrs ...slog.Attr) {
	args := []any{"operation", operation, "duration_ms", duration.Milliseconds()}
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	l.Logger.Info("performance", args...)
}

// Graph logs remote API events
func (l *Logger) Graph(msg string, args ...any) {
	l.subsystem(slog.LevelInfo, "graph", msg, args...)
}

// Database logs database-specific events
func (l *Logger) Database(msg string, args ...any) {
	l.subsystem(slog.LevelDebug, "database", msg, args...)
}

// Sink logs downstream publishing events
func (l *Logger) Sink(msg string, args ...any) {
	l.subsystem(slog.LevelInfo, "sink", msg, args...)
}

// Sync logs orchestration events
func (l *Logger) Sync(msg string, args ...any) {
	l.subsystem(slog.LevelInfo, "sync", msg, args...)
}

// Security logs security-related events
func (l *Logger) Security(msg string, args ...any) {
	l.subsystem(slog.LevelWarn, "security", msg, args...)
}

func (l *Logger) subsystem(level slog.Level, name, msg string, args ...any) {
	finalArgs := make([]any, 0, len(args)+2)
	finalArgs = append(finalArgs, "subsystem", name)
	finalArgs = append(finalArgs, args...)
	l.Logger.Log(context.Background(), level, msg, finalArgs...)
}

var defaultLogger atomic.Pointer[Logger]

// SetDefault sets the logger returned by Default.
func SetDefault(logger *Logger) {
	defaultLogger.Store(logger)
}

// Default returns the process-wide logger. Components capture it when they are built, so
// SetDefault must run before wiring.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultLogger.CompareAndSwap(nil, NewLogger(DefaultConfig()))
	return defaultLogger.Load()
}
