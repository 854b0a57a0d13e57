package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/boothill-gm/internal/config"
)

// Setup builds the process logger for service and makes it the slog default.
func Setup(cfg *config.Config, service string) *slog.Logger {
	logger := New(cfg, os.Stdout).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// New returns a logger writing to w: JSON in production, text elsewhere.
func New(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithRequestID adds request ID to logger context
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithSession tags log lines with the game session.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With("session_id", sessionID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With("error", err.Error())
}
