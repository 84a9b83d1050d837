// Package ctxlog provides a context key for passing a slog.Logger through
// context.Context, and builds loggers from configuration.
package ctxlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/notargets/elemgraph/config"
)

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

// loggerKey is the key for the slog.Logger in a context.Context.
var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. If no logger is
// found, it returns the default global logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// New builds a logger from cfg. Output goes to a rotating file when
// cfg.Logfile is set, otherwise to stderr.
func New(cfg *config.LogConfig) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &config.LogConfig{Level: config.DefaultLogLevel}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var w io.Writer = os.Stderr
	if cfg.Logfile != "" {
		w = &lumberjack.Logger{
			Filename: cfg.Logfile,
			MaxSize:  cfg.MaxSize,
			MaxAge:   cfg.MaxAge,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
