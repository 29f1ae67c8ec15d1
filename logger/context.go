package logger

import (
	"context"
	"log/slog"
	"os"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

// Logger context keys
const (
	LoggerKey ContextKey = "logger"
)

// New builds the process logger. Level is one of debug, info, warn, error.
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel falls back to info for anything it does not recognize.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// FromContext retrieves the logger from the context
// If no logger is found, it returns the default logger
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestID adds a request ID to the logger in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, "request_id", requestID)
}

func WithAssignment(ctx context.Context, assignmentID int64) context.Context {
	return with(ctx, "assignment_id", assignmentID)
}

func WithTestRun(ctx context.Context, testRunID int64, autotestTestID int64) context.Context {
	return with(ctx, "test_run_id", testRunID, "autotest_test_id", autotestTestID)
}

func WithJob(ctx context.Context, jobName string, jobID string) context.Context {
	return with(ctx, "job", jobName, "job_id", jobID)
}

func with(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}
