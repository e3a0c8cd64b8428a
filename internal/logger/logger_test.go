package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No correlation ID set
	if id := CorrelationID(ctx); id != "" {
		t.Errorf("expected empty correlation id, got %q", id)
	}

	// Set and retrieve
	ctx = WithCorrelationID(ctx, "BTCUSDT-123")
	if id := CorrelationID(ctx); id != "BTCUSDT-123" {
		t.Errorf("expected 'BTCUSDT-123', got %q", id)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 30, 0, 123456789, time.UTC)
	id := GenerateCorrelationID("BTCUSDT", ts)

	if id == "" {
		t.Fatal("expected non-empty correlation id")
	}
	if !strings.HasPrefix(id, "BTCUSDT-") {
		t.Errorf("expected correlation id to start with 'BTCUSDT-', got %s", id)
	}
	// Verify it contains the nano timestamp
	if !strings.Contains(id, "123456789") {
		t.Errorf("expected correlation id to contain nanoseconds, got %s", id)
	}
}

func TestWithCorrelation(t *testing.T) {
	ctx := context.Background()

	// No correlation ID
	attrs := WithCorrelation(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no correlation id, got %v", attrs)
	}

	ctx = WithCorrelationID(ctx, "abc-123")
	attrs = WithCorrelation(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with correlation id set")
	}
}
