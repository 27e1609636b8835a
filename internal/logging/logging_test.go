package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "simulator")).Info(context.Background(), "tick done",
		Int("tick", 3),
		Float64("ratio", 0.5),
		Error(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "tick done" || entry["component"] != "simulator" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["tick"] != float64(3) || entry["ratio"] != 0.5 || entry["error"] != "boom" {
		t.Fatalf("entry fields = %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("EPISIM_LOG_LEVEL", "error")
	t.Setenv("EPISIM_LOG_FORMAT", "json")
	if NewFromEnv() == nil {
		t.Fatalf("NewFromEnv returned nil")
	}
}

func TestRunIDHelpers(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	if got := RunIDFromContext(ctx); got != id {
		t.Fatalf("RunIDFromContext = %q, want %q", got, id)
	}
	if _, again := EnsureRunID(ctx); again != id {
		t.Fatalf("EnsureRunID replaced existing id %q with %q", id, again)
	}
	if RunIDFromContext(context.Background()) != "" {
		t.Fatalf("unexpected run id on empty context")
	}
}

func TestWithRunLoggerAnnotatesEntries(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx, log := WithRunLogger(ctx, base)
	log.Info(ctx, "started")

	if RunIDFromContext(ctx) != "run-1" {
		t.Fatalf("run id replaced")
	}
	if !strings.Contains(buf.String(), `"run_id":"run-1"`) {
		t.Fatalf("log line missing run_id: %q", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected no logger on empty context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("nil logger not replaced by noop")
	}
}

func TestNoopLogger(t *testing.T) {
	log := Noop().With(String("k", "v"))
	log.Debug(context.Background(), "x")
	log.Error(context.Background(), "y", Error(nil))
}
