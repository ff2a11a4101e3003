package transcript

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorderWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = rec.Close() }()

	ordinal := 0
	rec.Log(Event{
		UserID:     "alice",
		SessionID:  "sess-1",
		Direction:  "outbound",
		EventType:  EventUserMessage,
		Ordinal:    &ordinal,
		ContentRaw: "hello   world",
	})

	line := waitForLogLine(t, filepath.Join(dir, "alice", "sess-1.ndjson"))
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "hello   world" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content != "hello world" {
		t.Fatalf("expected cleaned content, got %q", got.Content)
	}
	if got.Ordinal == nil || *got.Ordinal != 0 {
		t.Fatalf("expected ordinal 0, got %v", got.Ordinal)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestRecorderSanitizesPathSegments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir, QueueSize: 4}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec.Log(Event{UserID: "../../etc", SessionID: "", EventType: EventReset})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "etc", "default.ndjson")); err != nil {
		t.Fatalf("expected sanitized path inside dir: %v", err)
	}
	if err := rec.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second Close, got %v", err)
	}
	rec.Log(Event{UserID: "late", EventType: EventReset})
}

func TestDisabledRecorderIsNoop(t *testing.T) {
	t.Parallel()

	rec, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := rec.(Noop); !ok {
		t.Fatalf("expected Noop recorder, got %T", rec)
	}
	rec.Log(Event{EventType: EventUserMessage})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := CleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
