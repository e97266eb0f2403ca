package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true}, // unknown defaults to info
	}

	for _, tt := range tests {
		logger := New(tt.level, "text")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", tt.level)
		}
		ctx := context.Background()
		if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debugEnabled {
			t.Errorf("level %q: debug enabled = %v, want %v", tt.level, got, tt.debugEnabled)
		}
		if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.infoEnabled {
			t.Errorf("level %q: info enabled = %v, want %v", tt.level, got, tt.infoEnabled)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	if logger := New("info", "json"); logger == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("Expected req-123, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("Expected latest request ID to win, got %q", id)
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	if logger := FromContext(ctx); logger == nil {
		t.Fatal("Expected default logger when none set")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if retrieved := FromContext(ctx); retrieved != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))

	if logger := L(ctx); logger == nil {
		t.Fatal("Expected non-nil logger without request ID")
	}

	ctx = WithRequestID(ctx, "req-789")
	if logger := L(ctx); logger == nil {
		t.Fatal("Expected non-nil logger with request ID")
	}
}
