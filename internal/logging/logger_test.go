package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imgconv/internal/config"
	"imgconv/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "imgconv.log")

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerFormatsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "info", "console")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "processor")
	ctx := logging.WithStage(logging.WithEntityID(context.Background(), "0123456789abcdef"), "convert")
	logging.WithContext(ctx, logger).Info("converted image", logging.String("target", "png"))

	line := buf.String()
	for _, want := range []string{"INFO [processor] entity 01234567 (convert)", "converted image", "target=png"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "debug", "console")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	logger.Debug("with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller information, got %q", buf.String())
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	ctx := logging.WithCorrelationID(logging.WithEntityID(context.Background(), "abc"), "session-1")
	logging.WithContext(ctx, logger).Warn("slow conversion")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload["entity_id"] != "abc" {
		t.Fatalf("expected entity_id abc, got %v", payload["entity_id"])
	}
	if payload["correlation_id"] != "session-1" {
		t.Fatalf("expected correlation id, got %v", payload["correlation_id"])
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "warn", "console")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	logger.Info("hidden")
	logger.Error("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestErrorWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "info", "console")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	logging.ErrorWithContext(logger, "conversion failed", "conversion_failed")
	if !strings.Contains(buf.String(), "event_type=conversion_failed") || !strings.Contains(buf.String(), "error_hint=") {
		t.Fatalf("expected default fields, got %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("expected nop logger to be disabled")
	}
}
