package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/chatify/internal/app"
	"github.com/ashureev/chatify/internal/authflow"
	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/backendtest"
	"github.com/ashureev/chatify/internal/clock"
	"github.com/ashureev/chatify/internal/conversation"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (Model, *app.Controller, *backendtest.Server) {
	t.Helper()
	m, ctrl, srv, _ := newTestModelWithClock(t)
	return m, ctrl, srv
}

func newTestModelWithClock(t *testing.T) (Model, *app.Controller, *backendtest.Server, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	srv := backendtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("alice", "alice@example.com", "pw")

	creds := credential.NewMemoryStore()
	client := backend.New(backend.Options{BaseURL: srv.URL(), Credentials: creds, HTTPClient: srv.Client()})
	ctrl := app.New(app.Options{
		Prober:      session.NewProbe(client, nil),
		Backend:     client,
		Credentials: creds,
		Clock:       clk,
	})
	t.Cleanup(ctrl.Close)

	m := New(context.Background(), ctrl)
	t.Cleanup(m.Close)
	ctrl.Start(context.Background())
	m = send(t, m, actionDoneMsg{})
	return m, ctrl, srv, clk
}

func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok, "Update returned %T", next)
	return model
}

// press delivers a key and runs the resulting action, if any.
func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	if done, ok := cmd().(actionDoneMsg); ok {
		m = send(t, m, done)
	}
	return m
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyTab   = tea.KeyMsg{Type: tea.KeyTab}
)

func TestInitialScreenIsLogin(t *testing.T) {
	m, _, _ := newTestModel(t)

	assert.Equal(t, app.PhaseAnonymous, m.snap.Phase)
	view := m.View()
	assert.Contains(t, view, "Sign in")
	assert.Contains(t, view, "Username")
	assert.Contains(t, view, "ctrl+r")
}

func TestCheckingScreen(t *testing.T) {
	m := Model{snap: app.Snapshot{Phase: app.PhaseChecking}, styles: defaultStyles(), keys: defaultKeyMap()}
	assert.Contains(t, m.View(), "Checking session")
}

func TestLoginValidationShownInline(t *testing.T) {
	m, _, srv := newTestModel(t)

	m = press(t, m, keyEnter) // username -> password
	m = press(t, m, keyEnter) // submit

	assert.Contains(t, m.View(), "Username and password are required")
	assert.Zero(t, srv.Calls(backend.PathLogin))
}

func TestLoginRejectedShowsBackendMessage(t *testing.T) {
	m, _, _ := newTestModel(t)

	m = typeText(t, m, "alice")
	m = press(t, m, keyTab)
	m = typeText(t, m, "wrong")
	m = press(t, m, keyEnter)

	assert.Equal(t, app.PhaseAnonymous, m.snap.Phase)
	assert.Contains(t, m.View(), "Invalid username or password")
	assert.NotContains(t, m.View(), "wrong", "password is masked")
}

func TestLoginChatAndLogout(t *testing.T) {
	m, ctrl, _ := newTestModel(t)

	m = typeText(t, m, "alice")
	m = press(t, m, keyTab)
	m = typeText(t, m, "pw")
	m = press(t, m, keyEnter)

	require.Equal(t, app.PhaseAuthenticated, m.snap.Phase)
	view := m.View()
	assert.Contains(t, view, "signed in as alice")
	assert.Contains(t, view, "No messages yet")

	m = typeText(t, m, "hello")
	m = press(t, m, keyEnter)
	require.NotNil(t, m.snap.Chat)
	assert.Len(t, m.snap.Chat.Log, 2)
	assert.Contains(t, m.View(), "echo: hello")
	assert.Empty(t, m.compose.Value())

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Empty(t, m.snap.Chat.Log)
	assert.Contains(t, m.View(), "No messages yet")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Equal(t, app.PhaseAnonymous, m.snap.Phase)
	assert.Equal(t, app.PhaseAnonymous, ctrl.Snapshot().Phase)
	assert.Contains(t, m.View(), "Sign in")
}

func TestToggleAndForgotScreens(t *testing.T) {
	m, _, srv := newTestModel(t)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, authflow.ModeRegister, m.snap.Auth.Mode)
	assert.Contains(t, m.View(), "Create an account")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, authflow.ModeLogin, m.snap.Auth.Mode)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlF})
	assert.Equal(t, authflow.ModeResetRequestOTP, m.snap.Auth.Mode)

	m = typeText(t, m, "alice@example.com")
	m = press(t, m, keyEnter)
	require.Equal(t, authflow.ModeResetConfirm, m.snap.Auth.Mode)
	assert.Equal(t, 1, srv.Calls(backend.PathForgotOTP))

	view := m.View()
	assert.Contains(t, view, "alice@example.com")
	assert.Contains(t, view, "Resend OTP in 60s")
	assert.Contains(t, view, authflow.NoticeOTPSent)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Equal(t, 1, srv.Calls(backend.PathForgotOTP), "resend refused during cooldown")
	assert.Contains(t, m.View(), "Please wait before requesting another OTP")
}

func TestLateActionResultShowsCurrentCountdown(t *testing.T) {
	m, _, _, clk := newTestModelWithClock(t)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlF})
	m = typeText(t, m, "alice@example.com")
	next, cmd := m.Update(keyEnter)
	m = next.(Model)
	require.NotNil(t, cmd)
	done := cmd()

	clk.Advance(time.Second)
	m = send(t, m, done)

	require.Equal(t, authflow.ModeResetConfirm, m.snap.Auth.Mode)
	assert.Equal(t, authflow.OTPCooldownSeconds-1, m.snap.Auth.OtpTimer)
	assert.Contains(t, m.View(), "Resend OTP in 59s")
}

func TestSnapshotsArriveThroughSubscription(t *testing.T) {
	m, ctrl, _ := newTestModel(t)

	require.NoError(t, ctrl.Auth().ToggleMode())
	msg := waitForSnapshot(m.updates)()
	next, cmd := m.Update(msg)
	m = next.(Model)

	assert.Equal(t, authflow.ModeRegister, m.snap.Auth.Mode)
	assert.NotNil(t, cmd, "listener is re-armed")
}

func TestQuit(t *testing.T) {
	m, _, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{authflow.ErrCooldown, "Please wait before requesting another OTP"},
		{authflow.ErrBusy, "Please wait for the current request to finish"},
		{conversation.ErrSendPending, "Waiting for the previous reply"},
		{conversation.ErrEmptyMessage, ""},
		{domain.NewValidationError("bad"), ""},
		{errors.New("disk full"), "disk full"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
