package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New builds the process-wide JSON logger. Local and dev environments log
// at debug, everything else at info.
func New(env string) *slog.Logger {
	lvl := slog.LevelInfo
	switch env {
	case "local", "dev":
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// ShutdownFlush drains buffered log output before exit. The JSON handler
// writes synchronously, so today this is a no-op kept on the shutdown path
// for when a buffered handler replaces it.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
