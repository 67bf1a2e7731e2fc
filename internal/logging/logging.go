// Package logging provides the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New creates a structured logger for the given environment. Production logs
// JSON at info level; everything else logs text at debug level.
func New(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}
