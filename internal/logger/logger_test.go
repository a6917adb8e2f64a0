package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestWithRequestID_And_RequestIDFromContext(t *testing.T) {
	ctx := context.Background()
	requestID := "req-12345"

	// Initially empty
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithRequestID(ctx, requestID)
	if got := RequestIDFromContext(ctx); got != requestID {
		t.Errorf("RequestIDFromContext() = %v, want %v", got, requestID)
	}
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWith("info", "json", &buf)
	if err != nil {
		t.Fatalf("NewWith failed: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-67890")
	FromContext(ctx, base).Info("transition")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q", buf.String())
	}
	if line["request_id"] != "req-67890" {
		t.Errorf("expected request_id attribute, got %v", line)
	}

	if FromContext(context.Background(), base) != base {
		t.Error("FromContext() without request ID should return the base logger")
	}
}

func TestNewWith(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWith("warn", "text", &buf)
	if err != nil {
		t.Fatalf("NewWith failed: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("unexpected output %q", buf.String())
	}

	if _, err := NewWith("loud", "json", &buf); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewWith("info", "xml", &buf); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	if New() == nil {
		t.Error("New() returned nil")
	}
}
