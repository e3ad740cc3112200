package logging

import (
	"log/slog"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, slog.LevelInfo); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetLoggerReturnsSameInstance(t *testing.T) {
	a := GetLogger("samelogger")
	b := GetLogger("samelogger")
	if a != b {
		t.Error("GetLogger returned different instances for one module")
	}
}

func TestModuleLevelOverrides(t *testing.T) {
	cfg := Config{
		Level:   "info",
		Modules: map[string]string{"noisy": "error"},
	}
	if got := moduleLevel(cfg, "noisy"); got != slog.LevelError {
		t.Errorf("module level = %v, want error", got)
	}
	if got := moduleLevel(cfg, "other"); got != slog.LevelInfo {
		t.Errorf("default level = %v, want info", got)
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(LogEntry{Message: string(rune('a' + i)), Timestamp: time.Now()})
	}
	entries := rb.ReadAll()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	want := []string{"c", "d", "e"}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
	if rb.Count() != 3 {
		t.Errorf("count = %d", rb.Count())
	}
}

func TestBufferHandlerCapturesModule(t *testing.T) {
	Initialize(Config{Level: "debug", Format: "text"})

	received := make(chan LogEntry, 1)
	SetLogCallback(func(entry LogEntry) {
		select {
		case received <- entry:
		default:
		}
	})
	defer SetLogCallback(nil)

	GetLogger("testmodule").Info("hello", "key", "value")

	select {
	case entry := <-received:
		if entry.Module != "testmodule" {
			t.Errorf("module = %q", entry.Module)
		}
		if entry.Message != "hello" {
			t.Errorf("message = %q", entry.Message)
		}
		if entry.Attributes["key"] != "value" {
			t.Errorf("attributes = %v", entry.Attributes)
		}
	case <-time.After(time.Second):
		t.Fatal("log entry never reached the callback")
	}
}

func TestLevelToString(t *testing.T) {
	if levelToString(slog.LevelWarn) != "warn" {
		t.Error("warn mapping")
	}
	if levelToString(slog.LevelDebug) != "debug" {
		t.Error("debug mapping")
	}
}
