package revgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/revgo/model"
)

// Logger wraps slog.Logger with revgo-specific context. It provides
// structured logging with consistent field names across operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that emits JSON-formatted logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that emits human-readable logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithDocument tags the logger with a document ID.
func (l *Logger) WithDocument(doc model.DocumentID) *Logger {
	return &Logger{Logger: l.Logger.With("document", uint64(doc))}
}

// LogStoreVersion logs the outcome of a store operation.
func (l *Logger) LogStoreVersion(ctx context.Context, id model.VersionID, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store version failed",
			"document", uint64(id.Document),
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "version stored",
			"document", uint64(id.Document),
			"version", uint64(id.Version),
			"size", size,
		)
	}
}

// LogGetVersion logs the outcome of a read.
func (l *Logger) LogGetVersion(ctx context.Context, doc model.DocumentID, version model.VersionNumber, err error) {
	if err != nil {
		l.WarnContext(ctx, "get version failed",
			"document", uint64(doc),
			"version", uint64(version),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "version read",
			"document", uint64(doc),
			"version", uint64(version),
		)
	}
}

// LogCompaction logs the outcome of an explicit compaction request.
func (l *Logger) LogCompaction(ctx context.Context, doc model.DocumentID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"document", uint64(doc),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"document", uint64(doc),
		)
	}
}

// LogFallback logs a read that was served by the external fallback.
func (l *Logger) LogFallback(ctx context.Context, doc model.DocumentID, version model.VersionNumber) {
	l.InfoContext(ctx, "version served by fallback",
		"document", uint64(doc),
		"version", uint64(version),
	)
}
