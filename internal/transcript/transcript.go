// Package transcript writes an optional NDJSON record of chat events.
//
// Each conversation gets its own file at <dir>/<user>/<session>.ndjson.
// Writes happen on a background goroutine fed by a bounded queue; when the
// queue is full events are dropped rather than blocking the chat.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Event types.
const (
	EventUserMessage = "chat_user_message"
	EventBotReply    = "chat_bot_reply"
	EventFallback    = "chat_fallback"
	EventReset       = "chat_reset"
	EventLogout      = "chat_logout"
)

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Direction  string         `json:"direction,omitempty"`
	EventType  string         `json:"event_type"`
	Ordinal    *int           `json:"ordinal,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Recorder accepts transcript events. Log never blocks.
type Recorder interface {
	Log(event Event)
	Close() error
}

// Config controls the NDJSON recorder.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ErrClosed is returned by Close on a recorder that is already closed.
var ErrClosed = errors.New("transcript: recorder closed")

// New returns an NDJSON recorder, or a no-op recorder when cfg is disabled.
func New(cfg Config, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript directory is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &ndjsonRecorder{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	go r.run()
	return r, nil
}

// Noop discards every event.
type Noop struct{}

// Log discards event.
func (Noop) Log(Event) {}

// Close does nothing.
func (Noop) Close() error { return nil }

type ndjsonRecorder struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	files  map[string]*os.File
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func (r *ndjsonRecorder) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = CleanForReadability(event.ContentRaw)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("transcript queue full, dropping event", "event_type", event.EventType, "dropped_total", n)
	}
}

func (r *ndjsonRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	var errs []error
	for key, f := range r.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (r *ndjsonRecorder) run() {
	defer close(r.done)
	for event := range r.queue {
		if err := r.write(event); err != nil {
			r.logger.Error("failed to write transcript event", "event_type", event.EventType, "error", err)
		}
	}
}

func (r *ndjsonRecorder) write(event Event) error {
	f, err := r.fileFor(event.UserID, event.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *ndjsonRecorder) fileFor(userID, sessionID string) (*os.File, error) {
	user := safeSegment(userID, "anonymous")
	session := safeSegment(sessionID, "default")
	key := user + "/" + session
	if f, ok := r.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(r.dir, user)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create user directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, session+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	r.files[key] = f
	return f, nil
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeSegment(s, fallback string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return fallback
	}
	return s
}

// CleanForReadability strips terminal escape sequences and collapses
// whitespace runs so the transcript reads as plain text.
func CleanForReadability(s string) string {
	return strings.Join(strings.Fields(ansi.Strip(s)), " ")
}
