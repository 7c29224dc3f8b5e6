package config

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "hookrelay"

// NewLogger writes JSON at Info in production and text at Debug elsewhere.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: cfg.IsDevelopment(),
	}

	if cfg.IsProduction() {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("service", serviceName)
}
