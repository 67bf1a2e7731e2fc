package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewProductionLevel(t *testing.T) {
	logger := New("production")
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("production logger should not log at debug level")
	}
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("production logger should log at info level")
	}
}

func TestNewDevelopmentLevel(t *testing.T) {
	logger := New("development")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("development logger should log at debug level")
	}
}
