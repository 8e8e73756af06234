package tensorkv

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with tensorkv-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithKey adds a key field to the logger.
func (l *Logger) WithKey(key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// WithRank adds a rank field to the logger.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{
		Logger: l.Logger.With("rank", rank),
	}
}

// LogInit logs a key initialization.
func (l *Logger) LogInit(key string, err error) {
	if err != nil {
		l.Error("init failed",
			"key", key,
			"error", err,
		)
	} else {
		l.Debug("init completed",
			"key", key,
		)
	}
}

// LogPush logs a push enqueue.
func (l *Logger) LogPush(key string, priority int, err error) {
	if err != nil {
		l.Error("push rejected",
			"key", key,
			"priority", priority,
			"error", err,
		)
	} else {
		l.Debug("push enqueued",
			"key", key,
			"priority", priority,
		)
	}
}

// LogPull logs a pull enqueue.
func (l *Logger) LogPull(key string, priority int, err error) {
	if err != nil {
		l.Error("pull rejected",
			"key", key,
			"priority", priority,
			"error", err,
		)
	} else {
		l.Debug("pull enqueued",
			"key", key,
			"priority", priority,
		)
	}
}

// LogRowSparsePull logs a row-sparse pull enqueue.
func (l *Logger) LogRowSparsePull(key string, destinations int, err error) {
	if err != nil {
		l.Error("row-sparse pull rejected",
			"key", key,
			"destinations", destinations,
			"error", err,
		)
	} else {
		l.Debug("row-sparse pull enqueued",
			"key", key,
			"destinations", destinations,
		)
	}
}

// LogWaitAll logs a barrier.
func (l *Logger) LogWaitAll(err error) {
	if err != nil {
		l.Error("wait-all failed",
			"error", err,
		)
	} else {
		l.Debug("wait-all completed")
	}
}
