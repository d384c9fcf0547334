// Package logging builds the process-wide slog.Logger from config,
// with a LOG_LEVEL environment variable override — the one piece of
// env/CLI surface beyond the single no-flag command and the
// credential env vars.
package logging

import (
	"log/slog"
	"os"

	"xemm-bot/internal/config"
)

// New builds a logger per cfg.Logging, with LOG_LEVEL overriding
// cfg.Logging.Level when set.
func New(cfg config.LoggingConfig) *slog.Logger {
	level := cfg.Level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
