// Package conversation holds the chat log for one signed-in session.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/transcript"
	"github.com/google/uuid"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("conversation: message is empty")

	// ErrSendPending is returned by Send while a previous send awaits its reply.
	ErrSendPending = errors.New("conversation: a message is already pending")

	// ErrLoggedOut is returned by Send after Logout.
	ErrLoggedOut = errors.New("conversation: logged out")
)

// Backend is the subset of the backend client the store needs.
type Backend interface {
	Ask(ctx context.Context, input string) (backend.Reply, error)
	Logout(ctx context.Context) error
}

// Options configures a Store.
type Options struct {
	Backend     Backend
	Credentials credential.Store
	User        domain.UserIdentity
	Recorder    transcript.Recorder
	Logger      *slog.Logger

	// SessionID names the transcript file. Generated when empty.
	SessionID string

	// OnChange fires after every state change, outside the store's lock.
	OnChange func()

	// OnLoggedOut fires once when Logout completes locally.
	OnLoggedOut func()
}

// State is a snapshot of a Store.
type State struct {
	Log     []domain.Message
	Pending bool
}

// Store is the ConversationStore: an append-only message log with a single
// outstanding send. Reset clears the log but ordinals keep counting.
type Store struct {
	backend   Backend
	creds     credential.Store
	user      domain.UserIdentity
	recorder  transcript.Recorder
	sessionID string
	logger    *slog.Logger
	onChange  func()
	onLogout  func()

	mu        sync.Mutex
	log       []domain.Message
	pending   bool
	next      int
	loggedOut bool
}

// New creates an empty Store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = transcript.Noop{}
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credential.NewMemoryStore()
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Store{
		backend:   opts.Backend,
		creds:     creds,
		user:      opts.User,
		recorder:  recorder,
		sessionID: sessionID,
		logger:    logger.With("session_id", sessionID),
		onChange:  opts.OnChange,
		onLogout:  opts.OnLoggedOut,
	}
}

// User returns the identity this conversation belongs to.
func (s *Store) User() domain.UserIdentity {
	return s.user
}

// SessionID returns the transcript session identifier.
func (s *Store) SessionID() string {
	return s.sessionID
}

// State returns a snapshot. The returned log is a copy.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := make([]domain.Message, len(s.log))
	copy(log, s.log)
	return State{Log: log, Pending: s.pending}
}

// Send appends text as a user message, asks the backend and appends the
// reply, or the fallback reply if the call fails. Every accepted send grows
// the log by exactly two messages. Backend failures are never returned.
func (s *Store) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return ErrLoggedOut
	}
	if s.pending {
		s.mu.Unlock()
		return ErrSendPending
	}
	userMsg := s.appendLocked(text, domain.SenderUser)
	s.pending = true
	s.mu.Unlock()
	s.record(transcript.EventUserMessage, "outbound", userMsg, nil)
	s.changed()

	reply, err := s.backend.Ask(ctx, text)

	event := transcript.EventBotReply
	var meta map[string]any
	if err != nil {
		s.logger.Warn("chat request failed", "kind", domain.KindOf(err), "error", err)
		reply = backend.Reply{Text: domain.FallbackReply, Sender: domain.SenderBot}
		event = transcript.EventFallback
		meta = map[string]any{"error": err.Error()}
	}

	s.mu.Lock()
	botMsg := s.appendLocked(reply.Text, reply.Sender)
	s.pending = false
	s.mu.Unlock()
	s.record(event, "inbound", botMsg, meta)
	s.changed()
	return nil
}

// Reset clears the log. It does not cancel a pending send; that reply is
// appended to the cleared log when it arrives.
func (s *Store) Reset() {
	s.mu.Lock()
	s.log = nil
	s.mu.Unlock()
	s.recorder.Log(transcript.Event{UserID: s.userKey(), SessionID: s.sessionID, EventType: transcript.EventReset})
	s.changed()
}

// Logout notifies the backend, then clears the credential and the log
// whatever the backend said, and fires OnLoggedOut. It always succeeds.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.backend.Logout(ctx); err != nil {
		s.logger.Warn("backend logout failed, clearing session locally", "kind", domain.KindOf(err), "error", err)
	}
	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Error("failed to clear credential", "error", err)
	}

	s.mu.Lock()
	first := !s.loggedOut
	s.loggedOut = true
	s.log = nil
	s.mu.Unlock()

	s.recorder.Log(transcript.Event{UserID: s.userKey(), SessionID: s.sessionID, EventType: transcript.EventLogout})
	s.logger.Info("logged out", "user", s.user.DisplayName())
	s.changed()
	if first && s.onLogout != nil {
		s.onLogout()
	}
	return nil
}

func (s *Store) appendLocked(text string, sender domain.Sender) domain.Message {
	msg := domain.Message{Text: text, Sender: sender, Ordinal: s.next}
	s.next++
	s.log = append(s.log, msg)
	return msg
}

func (s *Store) record(eventType, direction string, msg domain.Message, meta map[string]any) {
	ordinal := msg.Ordinal
	s.recorder.Log(transcript.Event{
		UserID:     s.userKey(),
		SessionID:  s.sessionID,
		Direction:  direction,
		EventType:  eventType,
		Ordinal:    &ordinal,
		ContentRaw: msg.Text,
		Meta:       meta,
	})
}

func (s *Store) userKey() string {
	if s.user.ID != "" {
		return s.user.ID
	}
	return s.user.DisplayName()
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
