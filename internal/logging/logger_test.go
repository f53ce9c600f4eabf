package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reel/internal/config"
	"reel/internal/logging"
	"reel/internal/services"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("engine started", logging.String("session_id", "s-1"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "reel.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &payload); err != nil {
		t.Fatalf("log file line is not JSON: %v (%q)", err, data)
	}
	if payload["msg"] != "engine started" {
		t.Fatalf("unexpected msg: %v", payload["msg"])
	}
	if payload["level"] != "info" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["session_id"] != "s-1" {
		t.Fatalf("unexpected session id: %v", payload["session_id"])
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug-level logger output, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndItem(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	base, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithItemID(context.Background(), "v7")
	logger := logging.WithContext(ctx, logging.NewComponentLogger(base, "playback"))
	logger.Info("activated", logging.String(logging.FieldState, "playing_muted"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(content)
	for _, want := range []string{"INFO [playback] item v7", "activated", "- state: playing_muted"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	hub := logging.NewStreamHub(8)
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{filepath.Join(t.TempDir(), "w.log")}, Stream: hub})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "prefetch failed", "prefetch_failed", logging.String(logging.FieldImpact, "item streams on activation"))

	events, _ := hub.Tail(1, EventFilter{})
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	fields := events[0].Fields
	if fields[logging.FieldEventType] != "prefetch_failed" {
		t.Fatalf("unexpected event type: %q", fields[logging.FieldEventType])
	}
	if fields[logging.FieldErrorHint] == "" {
		t.Fatal("expected default error hint")
	}
	if fields[logging.FieldImpact] != "item streams on activation" {
		t.Fatalf("expected caller impact preserved, got %q", fields[logging.FieldImpact])
	}
}
