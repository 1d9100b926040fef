package neurite

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/neuritedb/neurite/txlog"
)

// Logger wraps slog.Logger with helpers for the events the database emits.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a logger backed by the given handler.
func NewLogger(handler slog.Handler) *Logger {
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a logger that writes human-readable output to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a logger that writes JSON output to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithVersion returns a logger with the log file version attached.
func (l *Logger) WithVersion(version uint64) *Logger {
	return &Logger{Logger: l.With(slog.Uint64("version", version))}
}

// WithPosition returns a logger with a log position attached.
func (l *Logger) WithPosition(pos txlog.LogPosition) *Logger {
	return &Logger{Logger: l.With(
		slog.Uint64("version", pos.Version),
		slog.Uint64("offset", pos.Offset),
	)}
}

// WithTx returns a logger with a transaction id attached.
func (l *Logger) WithTx(txID uint64) *Logger {
	return &Logger{Logger: l.With(slog.Uint64("tx", txID))}
}

// LogRotation records a completed log rotation.
func (l *Logger) LogRotation(ctx context.Context, oldVersion, newVersion uint64, elapsed time.Duration) {
	l.LogAttrs(ctx, slog.LevelInfo, "transaction log rotated",
		slog.Uint64("old_version", oldVersion),
		slog.Uint64("new_version", newVersion),
		slog.Duration("elapsed", elapsed),
	)
}

// LogCheckpoint records the outcome of a checkpoint attempt.
func (l *Logger) LogCheckpoint(ctx context.Context, reason string, pos txlog.LogPosition, err error) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, "checkpoint failed",
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		return
	}
	l.LogAttrs(ctx, slog.LevelInfo, "checkpoint written",
		slog.String("reason", reason),
		slog.Uint64("version", pos.Version),
		slog.Uint64("offset", pos.Offset),
	)
}

// LogRecovery records the outcome of a recovery run.
func (l *Logger) LogRecovery(ctx context.Context, recovered int, elapsed time.Duration, err error) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, "recovery failed",
			slog.Any("error", err),
		)
		return
	}
	l.LogAttrs(ctx, slog.LevelInfo, "recovery completed",
		slog.Int("recovered_transactions", recovered),
		slog.Duration("elapsed", elapsed),
	)
}

// LogCommit records a committed transaction.
func (l *Logger) LogCommit(ctx context.Context, txID uint64, commands int) {
	l.LogAttrs(ctx, slog.LevelDebug, "transaction committed",
		slog.Uint64("tx", txID),
		slog.Int("commands", commands),
	)
}

// rotationLogger forwards rotation events from the log writer to the
// logger.
type rotationLogger struct {
	txlog.NoopMonitor
	logger *Logger
}

func (m rotationLogger) LogRotated(oldVersion, newVersion uint64, elapsed time.Duration) {
	m.logger.LogRotation(context.Background(), oldVersion, newVersion, elapsed)
}
