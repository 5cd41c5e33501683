package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewLogger(&Config{
		Level:            level,
		Format:           JSONFormat,
		Writer:           buf,
		DisableTimestamp: true,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{name: "default", config: DefaultConfig()},
		{name: "debug", config: DebugConfig()},
		{name: "bad level", config: &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, expectError: true},
		{name: "bad format", config: &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, expectError: true},
		{name: "file without path", config: &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, expectError: true},
		{name: "writer overrides output", config: &Config{Level: InfoLevel, Format: TextFormat, Writer: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithFieldKeepsFields(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithComponent("pipeline").
		WithField("source", "IMG_001.jpg").
		WithError(errors.New("boom")).
		Warn("extraction failed")

	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(entries))
	}
	entry := entries[0]
	if entry["component"] != "pipeline" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["source"] != "IMG_001.jpg" {
		t.Errorf("expected source field, got %v", entry["source"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
	if entry["level"] != "warning" {
		t.Errorf("expected warning level, got %v", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	entries := decodeLines(t, buf)
	if len(entries) != 1 || entries[0]["msg"] != "shown" {
		t.Errorf("expected only the warning to be logged, got %v", entries)
	}
}

func TestProgressTracker(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "extract",
		Total:       4,
		LogInterval: time.Hour,
		Logger:      log,
	})
	tracker.Increment()
	tracker.Increment()
	tracker.IncrementFailed()

	stats := tracker.GetStats()
	if stats.Current != 3 || stats.Failed != 1 {
		t.Errorf("expected 3 processed and 1 failed, got %d/%d", stats.Current, stats.Failed)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}

	tracker.Complete()
	entries := decodeLines(t, buf)
	last := entries[len(entries)-1]
	if last["msg"] != "Operation completed" || last["failed"] != float64(1) {
		t.Errorf("unexpected completion entry: %v", last)
	}
}

func TestTimedOperation(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	err := TimedOperation("load ledger", log, func() error { return errors.New("no rows") })
	if err == nil || err.Error() != "no rows" {
		t.Fatalf("expected the function error to be returned, got %v", err)
	}

	entries := decodeLines(t, buf)
	last := entries[len(entries)-1]
	if last["status"] != "error" || last["operation"] != "load ledger" {
		t.Errorf("unexpected final entry: %v", last)
	}
}
