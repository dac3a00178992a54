package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// Options controls how the global logger is built.
type Options struct {
	Debug  bool
	Format string    // "text" (default) or "json"
	Output io.Writer // defaults to os.Stdout
}

// Init initializes the global logger. Only the first call has any effect;
// package functions call Init with zero Options if nothing did before.
func Init(opts Options) {
	once.Do(func() {
		defaultLogger = New(opts)
		slog.SetDefault(defaultLogger)
	})
}

// New builds a logger without touching the global one.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
		// Add source file information if in debug mode
		AddSource: opts.Debug,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

func get() *slog.Logger {
	if defaultLogger == nil {
		Init(Options{})
	}
	return defaultLogger
}

// Debug logs at Debug level.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at Info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at Warn level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at Error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// Fatal logs at Error level and then exits.
func Fatal(msg string, args ...any) {
	get().Error(msg, args...)
	os.Exit(1)
}

// With returns a new logger with the given attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// InfoContext logs at Info level with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	get().InfoContext(ctx, msg, args...)
}

// WarnContext logs at Warn level with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	get().WarnContext(ctx, msg, args...)
}

// ErrorContext logs at Error level with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	get().ErrorContext(ctx, msg, args...)
}
