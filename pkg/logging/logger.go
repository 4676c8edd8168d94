// Package logging provides the structured logger shared by hivemind roles.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON logger tagged with the role it serves. Logs go to
// stderr so the asker and brainer terminals keep stdout for the user.
func New(role string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("role", role))
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
