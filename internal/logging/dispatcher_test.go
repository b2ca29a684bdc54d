package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return entry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	dl.Debug("test message", "key1", "value1", "key2", 42)

	entry := decodeLine(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("expected level 'debug', got %v", entry["level"])
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if entry["key1"] != "value1" {
		t.Errorf("expected key1='value1', got %v", entry["key1"])
	}
	if entry["key2"] != float64(42) { // JSON numbers are float64
		t.Errorf("expected key2=42, got %v", entry["key2"])
	}
}

func TestDispatcherLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered, got %q", buf.String())
	}

	dl.Error("error occurred", "code", 500)
	entry := decodeLine(t, &buf)
	if entry["level"] != "error" || entry["code"] != float64(500) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestDispatcherLogger_ErrorsAndDanglingKeys(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Warn("handler failed", "error", errors.New("boom"), 7, "skipped", "conn", "c1", "orphan")

	entry := decodeLine(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("expected level 'warn', got %v", entry["level"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error='boom', got %v", entry["error"])
	}
	if entry["conn"] != "c1" {
		t.Errorf("expected conn='c1', got %v", entry["conn"])
	}
	if entry["!dangling"] != "orphan" {
		t.Errorf("expected dangling key to be reported, got %v", entry)
	}
	if entry["component"] != "dispatcher" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
}
