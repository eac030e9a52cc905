package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestModuleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug).Module("merk")
	logger.Info("commit finished", "nodes", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["module"] != "merk" {
		t.Errorf("module attribute: got %v", entry["module"])
	}
	if entry["msg"] != "commit finished" {
		t.Errorf("message: got %v", entry["msg"])
	}
	if entry["nodes"] != float64(3) {
		t.Errorf("attribute: got %v", entry["nodes"])
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	// Must not panic.
	logger.Module("x").With("k", "v").Debug("dropped")
	logger.Info("dropped")
	logger.Warn("dropped")
	logger.Error("dropped")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("below-level output leaked: %s", buf.String())
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("warn output missing")
	}
}
