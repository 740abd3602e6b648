package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.Debug(context.Background(), "upload failed", String("channel", "wifi"), Int("attempt", 1), Error(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "upload failed" {
		t.Fatalf("msg = %v", rec["msg"])
	}
	if rec["channel"] != "wifi" || rec["error"] != "boom" {
		t.Fatalf("unexpected fields: %+v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestWithCycleLoggerKeepsExistingID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, log := WithCycleLogger(context.Background(), base)
	id := CycleIDFromContext(ctx)
	if id == "" {
		t.Fatalf("expected cycle id on context")
	}

	ctx2, _ := WithCycleLogger(ctx, base)
	if got := CycleIDFromContext(ctx2); got != id {
		t.Fatalf("cycle id changed: %q -> %q", id, got)
	}

	log.Info(ctx, "cycle started")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("log line missing cycle_id %q: %q", id, buf.String())
	}
	if FromContext(ctx, nil) == nil {
		t.Fatalf("expected logger on context")
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("expected noop fallback")
	}
}
