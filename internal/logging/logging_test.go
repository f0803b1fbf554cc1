package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"Warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONForRun(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ForRun(logger, "run-42").Info("round complete", "round", 3)
	logger.Debug("dropped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["run_id"] != "run-42" || entry["msg"] != "round complete" || entry["round"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hello", "participant", "alice")
	if !strings.Contains(buf.String(), "participant=alice") {
		t.Errorf("text output = %q", buf.String())
	}

	// A buffer is not a terminal, so the automatic format is JSON.
	buf.Reset()
	logger, _ = New(&buf, "", "")
	logger.Info("auto")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format output = %q", buf.String())
	}

	if _, err := New(&buf, "info", "xml"); err == nil {
		t.Error("expected error for xml format")
	}
	if _, err := New(&buf, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should drop errors")
	}
	if ForRun(nil, "x") == nil {
		t.Error("ForRun(nil) returned nil")
	}
}
