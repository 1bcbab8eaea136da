package internal

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn := newLogger(ApplicationConfig{LogLevel: slog.LevelInfo}, &console)
	defer closeFn()

	logger.Debug("hidden")
	logger.Info("cache: cleared", slog.Int("files", 2))

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q, want one info line", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "cache: cleared" || entry["files"] != float64(2) {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "roster.log")
	cfg := ApplicationConfig{
		LogLevel: slog.LevelInfo,
		LogFile:  LogFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	}
	logger, closeFn := newLogger(cfg, &console)
	logger.Info("records: loaded")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), "records: loaded") {
		t.Errorf("file = %q", data)
	}
	if !strings.Contains(console.String(), "records: loaded") {
		t.Errorf("console = %q", console.String())
	}
}
