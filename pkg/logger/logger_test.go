package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	log := Get()
	if log == nil {
		t.Fatal("logger is nil after initialization")
	}

	// Re-initialization must be safe.
	if err := Init(); err != nil {
		t.Fatalf("failed to re-initialize logger: %v", err)
	}

	ctx := context.Background()
	log = Get()
	log.Debug(ctx, "debug message", String("key", "value"))
	log.Info(ctx, "info message", Int("count", 1), Bool("flag", true))
	log.Warn(ctx, "warn message", Any("value", struct{}{}))
	log.Error(ctx, "error message", Err(context.Canceled))

	named := log.Named("component")
	if named == nil {
		t.Fatal("named logger is nil")
	}
	named.Info(ctx, "named message")

	if sub := Named("other"); sub == nil {
		t.Fatal("package-level named logger is nil")
	}
}

func TestSetLevelString(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	for _, level := range []string{"debug", "info", "warn", "warning", "error", "INFO", " error "} {
		if err := SetLevelString(level); err != nil {
			t.Errorf("SetLevelString(%q) failed: %v", level, err)
		}
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}

	// Empty means the default level.
	if err := SetLevelString(""); err != nil {
		t.Errorf("SetLevelString(\"\") failed: %v", err)
	}

	SetLevel(slog.LevelInfo)
	if got := levelVar.Level(); got != slog.LevelInfo {
		t.Errorf("level = %v, want %v", got, slog.LevelInfo)
	}
}
