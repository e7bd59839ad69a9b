// Package logging sets up the process-wide structured logger used by every
// pipeline stage and the CLI entry point.
package logging

import (
	"log/slog"
	"os"
)

// Init configures the default slog logger with a text handler at the given
// level and installs it as slog's package default, mirroring the teacher's
// debug-flag-driven slog setup in its CLI entry point.
func Init(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Stage returns a logger scoped to a named pipeline stage.
func Stage(logger *slog.Logger, stage string) *slog.Logger {
	return logger.With("stage", stage)
}
