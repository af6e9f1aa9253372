package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	for _, format := range []string{"", "text", "json", "JSON"} {
		if err := Init(format); err != nil {
			t.Fatalf("Init(%q): %v", format, err)
		}
		if Get() == nil {
			t.Fatal("logger is nil after initialization")
		}
	}
	if err := Init("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := Sync(); err != nil {
		t.Errorf("failed to sync logger: %v", err)
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf, "json"); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init("text") })

	ctx := WithRequestID(context.Background(), "req-1")
	Named("api").With(String("board", "default")).Info(ctx, "served",
		Int("status", 200),
		Bool("cached", false),
		Duration("took", time.Millisecond),
		Error(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	checks := map[string]any{
		"msg":        "served",
		"logger":     "api",
		"board":      "default",
		"request_id": "req-1",
		"error":      "boom",
		"cached":     false,
	}
	for k, want := range checks {
		if rec[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, rec[k])
		}
	}
	if src, _ := rec["source"].(string); !strings.Contains(src, "logger_test.go") {
		t.Errorf("expected caller in source, got %v", rec["source"])
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf, "text"); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = SetLevelString("info")
		_ = Init("text")
	})

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Get().Info(context.Background(), "hidden")
	Get().Warn(context.Background(), "shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}

	if err := SetLevelString("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRequestID(t *testing.T) {
	if RequestID(context.Background()) != "" {
		t.Error("expected empty request id")
	}
	ctx := WithRequestID(context.Background(), "abc")
	if RequestID(ctx) != "abc" {
		t.Errorf("expected abc, got %q", RequestID(ctx))
	}
}
