package conversation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/backendtest"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend answers Ask from a queue of outcomes; nil means success.
type scriptedBackend struct {
	mu        sync.Mutex
	outcomes  []error
	logoutErr error
	asks      []string
	logouts   int
}

func (b *scriptedBackend) Ask(_ context.Context, input string) (backend.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks = append(b.asks, input)
	var err error
	if len(b.outcomes) > 0 {
		err = b.outcomes[0]
		b.outcomes = b.outcomes[1:]
	}
	if err != nil {
		return backend.Reply{}, err
	}
	return backend.Reply{Text: "re: " + input, Sender: domain.SenderBot}, nil
}

func (b *scriptedBackend) Logout(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts++
	return b.logoutErr
}

func TestSendGrowsLogByTwoRegardlessOfOutcome(t *testing.T) {
	t.Parallel()

	failures := []error{
		nil,
		&domain.Error{Kind: domain.KindNetwork, Message: domain.NetworkErrorMessage},
		&domain.Error{Kind: domain.KindServer, Status: http.StatusInternalServerError},
		&domain.Error{Kind: domain.KindAuth, Status: http.StatusUnauthorized},
		nil,
		&domain.Error{Kind: domain.KindServer, Status: http.StatusOK, Message: "reply has no text"},
	}
	b := &scriptedBackend{outcomes: append([]error(nil), failures...)}
	s := New(Options{Backend: b})

	for i := range failures {
		require.NoError(t, s.Send(context.Background(), "message"))
		st := s.State()
		assert.Len(t, st.Log, 2*(i+1))
		assert.False(t, st.Pending)
	}

	log := s.State().Log
	for i, msg := range log {
		assert.Equal(t, i, msg.Ordinal)
		if i%2 == 0 {
			assert.Equal(t, domain.SenderUser, msg.Sender)
			continue
		}
		assert.Equal(t, domain.SenderBot, msg.Sender)
		if failures[i/2] != nil {
			assert.Equal(t, domain.FallbackReply, msg.Text)
		} else {
			assert.Equal(t, "re: message", msg.Text)
		}
	}
}

func TestSendRejectsBlankInput(t *testing.T) {
	t.Parallel()

	changes := 0
	b := &scriptedBackend{}
	s := New(Options{Backend: b, OnChange: func() { changes++ }})

	for _, text := range []string{"", "   ", "\t\n"} {
		assert.ErrorIs(t, s.Send(context.Background(), text), ErrEmptyMessage)
		st := s.State()
		assert.Empty(t, st.Log)
		assert.False(t, st.Pending)
	}
	assert.Empty(t, b.asks)
	assert.Zero(t, changes)
}

func TestSendKeepsTextAsTyped(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{}
	s := New(Options{Backend: b})
	require.NoError(t, s.Send(context.Background(), "  hi there "))

	assert.Equal(t, "  hi there ", s.State().Log[0].Text)
	assert.Equal(t, []string{"  hi there "}, b.asks)
}

func TestResetKeepsOrdinalsIncreasing(t *testing.T) {
	t.Parallel()

	s := New(Options{Backend: &scriptedBackend{}})
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, "one"))
	s.Reset()
	assert.Empty(t, s.State().Log)

	require.NoError(t, s.Send(ctx, "two"))
	log := s.State().Log
	require.Len(t, log, 2)
	assert.Equal(t, 2, log[0].Ordinal)
	assert.Equal(t, 3, log[1].Ordinal)
}

func loggedIn(t *testing.T, srv *backendtest.Server, timeout time.Duration) (*backend.Client, *credential.MemoryStore) {
	t.Helper()
	srv.AddUser("alice", "alice@example.com", "pw")
	creds := credential.NewMemoryStore()
	client := backend.New(backend.Options{
		BaseURL:     srv.URL(),
		Credentials: creds,
		HTTPClient:  &http.Client{Timeout: timeout},
	})
	res, err := client.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, creds.Set(context.Background(), res.Token))
	return client, creds
}

func TestSendTimeoutAppendsFallback(t *testing.T) {
	t.Parallel()

	srv := backendtest.NewServer()
	defer srv.Close()
	client, creds := loggedIn(t, srv, 100*time.Millisecond)
	release := srv.Hold(backend.PathAsked)
	defer release()

	s := New(Options{Backend: client, Credentials: creds})
	require.NoError(t, s.Send(context.Background(), "hi"))

	assert.Equal(t, []domain.Message{
		{Text: "hi", Sender: domain.SenderUser, Ordinal: 0},
		{Text: domain.FallbackReply, Sender: domain.SenderBot, Ordinal: 1},
	}, s.State().Log)
	assert.False(t, s.State().Pending)
}

func TestSendWhilePendingAndResetDuringPending(t *testing.T) {
	t.Parallel()

	srv := backendtest.NewServer()
	defer srv.Close()
	client, creds := loggedIn(t, srv, 5*time.Second)
	release := srv.Hold(backend.PathAsked)

	s := New(Options{Backend: client, Credentials: creds})
	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()

	require.Eventually(t, func() bool { return s.State().Pending }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrSendPending)
	assert.Len(t, s.State().Log, 1)

	s.Reset()
	st := s.State()
	assert.Empty(t, st.Log)
	assert.True(t, st.Pending, "reset does not cancel the in-flight send")

	release()
	require.NoError(t, <-done)

	st = s.State()
	assert.False(t, st.Pending)
	require.Len(t, st.Log, 1)
	assert.Equal(t, "echo: first", st.Log[0].Text)
	assert.Equal(t, 1, st.Log[0].Ordinal)
}

func TestReplySenderDefaultsToBot(t *testing.T) {
	t.Parallel()

	srv := backendtest.NewServer()
	defer srv.Close()
	srv.SetReplier(func(input string) (string, string) { return strings.ToUpper(input), "" })
	client, creds := loggedIn(t, srv, 5*time.Second)

	s := New(Options{Backend: client, Credentials: creds})
	require.NoError(t, s.Send(context.Background(), "hey"))
	reply := s.State().Log[1]
	assert.Equal(t, "HEY", reply.Text)
	assert.Equal(t, domain.SenderBot, reply.Sender)
}

func TestLogoutWhileOfflineClearsCredential(t *testing.T) {
	t.Parallel()

	srv := backendtest.NewServer()
	defer srv.Close()
	client, creds := loggedIn(t, srv, 5*time.Second)

	loggedOut := 0
	s := New(Options{
		Backend:     client,
		Credentials: creds,
		User:        domain.UserIdentity{Username: "alice"},
		OnLoggedOut: func() { loggedOut++ },
	})
	require.NoError(t, s.Send(context.Background(), "hi"))

	srv.SetOffline(true)
	require.NoError(t, s.Logout(context.Background()))

	assert.False(t, credential.Present(context.Background(), creds))
	assert.Equal(t, 1, loggedOut)
	assert.Empty(t, s.State().Log)
	assert.ErrorIs(t, s.Send(context.Background(), "again"), ErrLoggedOut)

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, 1, loggedOut, "logged-out handler fires once")
}

func TestLogoutInvalidatesBackendSession(t *testing.T) {
	t.Parallel()

	srv := backendtest.NewServer()
	defer srv.Close()
	client, creds := loggedIn(t, srv, 5*time.Second)
	require.Equal(t, 1, srv.SessionCount())

	s := New(Options{Backend: client, Credentials: creds})
	require.NoError(t, s.Logout(context.Background()))
	assert.Zero(t, srv.SessionCount())
	assert.Equal(t, 1, srv.Calls(backend.PathLogout))
}

func TestLogoutBackendErrorStillSucceeds(t *testing.T) {
	t.Parallel()

	b := &scriptedBackend{logoutErr: errors.New("boom")}
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Set(context.Background(), "tok"))

	s := New(Options{Backend: b, Credentials: creds})
	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, 1, b.logouts)
	assert.False(t, credential.Present(context.Background(), creds))
}

func TestTranscriptRecordsExchange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := transcript.New(transcript.Config{Enabled: true, Dir: dir, QueueSize: 8}, slog.Default())
	require.NoError(t, err)

	s := New(Options{
		Backend:   &scriptedBackend{outcomes: []error{errors.New("down")}},
		User:      domain.UserIdentity{ID: "u-alice", Username: "alice"},
		Recorder:  rec,
		SessionID: "chat-1",
	})
	require.NoError(t, s.Send(context.Background(), "hi"))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(filepath.Join(dir, "u-alice", "chat-1.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], transcript.EventUserMessage)
	assert.Contains(t, lines[1], transcript.EventFallback)
}
