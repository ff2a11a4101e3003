// Package tui is the terminal presentation layer. It only renders controller
// snapshots and forwards user actions; all session state lives in app.
package tui

import (
	"context"
	"errors"

	"github.com/ashureev/chatify/internal/app"
	"github.com/ashureev/chatify/internal/authflow"
	"github.com/ashureev/chatify/internal/conversation"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the part of *app.Controller the UI drives.
type Controller interface {
	Start(ctx context.Context)
	Retry(ctx context.Context)
	Snapshot() app.Snapshot
	Subscribe(fn func(app.Snapshot)) (cancel func())
	Auth() *authflow.Flow
	Conversation() *conversation.Store
}

var _ Controller = (*app.Controller)(nil)

type field int

const (
	fieldUsername field = iota
	fieldEmail
	fieldPassword
	fieldOTP
	fieldNewPassword
	fieldCount
)

var fieldLabels = [fieldCount]string{
	fieldUsername:    "Username",
	fieldEmail:       "Email",
	fieldPassword:    "Password",
	fieldOTP:         "OTP",
	fieldNewPassword: "New password",
}

func fieldsFor(mode authflow.Mode) []field {
	switch mode {
	case authflow.ModeRegister:
		return []field{fieldUsername, fieldEmail, fieldPassword}
	case authflow.ModeResetRequestOTP:
		return []field{fieldEmail}
	case authflow.ModeResetConfirm:
		return []field{fieldOTP, fieldNewPassword}
	default:
		return []field{fieldUsername, fieldPassword}
	}
}

const (
	defaultWidth  = 80
	defaultHeight = 24
)

// snapshotMsg carries a pushed controller snapshot.
type snapshotMsg app.Snapshot

// actionDoneMsg reports a finished controller action. The state is read from
// the controller when the message is handled, so a snapshot pushed in the
// meantime is never rolled back.
type actionDoneMsg struct {
	err error
}

// Model is the Bubble Tea model.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	updates chan app.Snapshot
	cancel  func()

	snap    app.Snapshot
	fields  [fieldCount]textinput.Model
	focus   int
	compose textinput.Model
	log     viewport.Model
	spin    spinner.Model
	help    help.Model
	keys    keyMap
	styles  styles
	status  string
	width   int
	height  int
}

// New creates a Model subscribed to ctrl. Call Close when the program exits.
func New(ctx context.Context, ctrl Controller) Model {
	m := Model{
		ctx:     ctx,
		ctrl:    ctrl,
		updates: make(chan app.Snapshot, 1),
		snap:    ctrl.Snapshot(),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    defaultKeyMap(),
		styles:  defaultStyles(),
		width:   defaultWidth,
		height:  defaultHeight,
	}
	m.spin.Style = m.styles.status

	for f := range m.fields {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 256
		in.Placeholder = fieldLabels[f]
		if field(f) == fieldPassword || field(f) == fieldNewPassword {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		m.fields[f] = in
	}

	m.compose = textinput.New()
	m.compose.Prompt = "› "
	m.compose.Placeholder = "Type a message"
	m.compose.CharLimit = 4000
	m.log = viewport.New(defaultWidth, defaultHeight-6)
	m.resize(defaultWidth, defaultHeight)
	m.focusFirst()

	updates := m.updates
	m.cancel = ctrl.Subscribe(func(s app.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			// Keep only the newest snapshot.
			select {
			case <-updates:
			default:
			}
		}
	})
	return m
}

// Close unsubscribes from the controller.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Init starts the spinner, the snapshot listener and the first probe.
func (m Model) Init() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return tea.Batch(
		m.spin.Tick,
		waitForSnapshot(m.updates),
		func() tea.Msg {
			ctrl.Start(ctx)
			return actionDoneMsg{}
		},
	)
}

func waitForSnapshot(ch <-chan app.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-ch)
	}
}

// Update handles input and controller snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case snapshotMsg:
		m.apply(app.Snapshot(msg))
		return m, waitForSnapshot(m.updates)

	case actionDoneMsg:
		m.apply(m.ctrl.Snapshot())
		m.status = statusFor(msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		switch m.snap.Phase {
		case app.PhaseAnonymous:
			return m.updateAuth(msg)
		case app.PhaseAuthenticated:
			return m.updateChat(msg)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	auth := m.snap.Auth
	if auth == nil {
		return m, nil
	}
	flow := m.ctrl.Auth()

	switch {
	case key.Matches(msg, m.keys.Retry):
		return m, m.retry()
	case key.Matches(msg, m.keys.Next):
		m.moveFocus(1)
		return m, nil
	case key.Matches(msg, m.keys.Prev):
		m.moveFocus(-1)
		return m, nil
	case key.Matches(msg, m.keys.Toggle) && flow != nil:
		return m, m.run(func(context.Context) error { return flow.ToggleMode() })
	case key.Matches(msg, m.keys.Forgot) && flow != nil:
		return m, m.run(func(context.Context) error { return flow.ForgotPassword() })
	case key.Matches(msg, m.keys.Back) && flow != nil:
		return m, m.run(func(context.Context) error { return flow.BackToLogin() })
	case key.Matches(msg, m.keys.Resend) && flow != nil && auth.Mode == authflow.ModeResetConfirm && auth.Challenge != nil:
		email := auth.Challenge.Email
		return m, m.run(func(ctx context.Context) error { return flow.RequestOTP(ctx, email) })
	case key.Matches(msg, m.keys.Submit):
		if m.focus < len(fieldsFor(auth.Mode))-1 {
			m.moveFocus(1)
			return m, nil
		}
		return m, m.submit(flow, auth.Mode)
	}

	if auth.Submitting {
		return m, nil
	}
	f := fieldsFor(auth.Mode)[m.focus]
	var cmd tea.Cmd
	m.fields[f], cmd = m.fields[f].Update(msg)
	return m, cmd
}

func (m Model) submit(flow *authflow.Flow, mode authflow.Mode) tea.Cmd {
	if flow == nil {
		return nil
	}
	v := func(f field) string { return m.fields[f].Value() }
	username, email, password := v(fieldUsername), v(fieldEmail), v(fieldPassword)
	otp, newPassword := v(fieldOTP), v(fieldNewPassword)

	switch mode {
	case authflow.ModeRegister:
		return m.run(func(ctx context.Context) error { return flow.SubmitRegister(ctx, username, email, password) })
	case authflow.ModeResetRequestOTP:
		return m.run(func(ctx context.Context) error { return flow.RequestOTP(ctx, email) })
	case authflow.ModeResetConfirm:
		return m.run(func(ctx context.Context) error { return flow.ConfirmReset(ctx, "", otp, newPassword) })
	default:
		return m.run(func(ctx context.Context) error { return flow.SubmitLogin(ctx, username, password) })
	}
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	chat := m.ctrl.Conversation()
	if chat == nil {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Send):
		text := m.compose.Value()
		if m.snap.Chat != nil && m.snap.Chat.Pending {
			m.status = statusFor(conversation.ErrSendPending)
			return m, nil
		}
		m.compose.Reset()
		return m, m.run(func(ctx context.Context) error { return chat.Send(ctx, text) })
	case key.Matches(msg, m.keys.NewChat):
		return m, m.run(func(context.Context) error {
			chat.Reset()
			return nil
		})
	case key.Matches(msg, m.keys.Logout):
		return m, m.run(chat.Logout)
	case key.Matches(msg, m.keys.ScrollUp), key.Matches(msg, m.keys.ScrollDwn):
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.compose, cmd = m.compose.Update(msg)
	return m, cmd
}

func (m Model) retry() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		ctrl.Retry(ctx)
		return actionDoneMsg{}
	}
}

// run executes fn off the UI goroutine and reports its error.
func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		err := fn(ctx)
		return actionDoneMsg{err: err}
	}
}

// apply adopts a snapshot, resetting the form when the screen changes.
func (m *Model) apply(s app.Snapshot) {
	prev := m.snap
	m.snap = s

	screenChanged := prev.Phase != s.Phase
	if !screenChanged && prev.Auth != nil && s.Auth != nil && prev.Auth.Mode != s.Auth.Mode {
		screenChanged = true
	}
	if prev.Auth == nil && s.Auth != nil {
		screenChanged = true
	}
	if screenChanged {
		m.status = ""
		m.resetForm(s)
	}

	if s.Chat != nil {
		m.log.SetContent(m.renderLog(s.Chat.Log))
		m.log.GotoBottom()
	}
}

func (m *Model) resetForm(s app.Snapshot) {
	for f := range m.fields {
		if field(f) == fieldUsername && s.Auth != nil && s.Auth.Mode == authflow.ModeLogin {
			// Keep the username across register and login.
			continue
		}
		m.fields[f].Reset()
	}
	m.compose.Reset()
	m.focus = 0
	m.focusFirst()
}

func (m *Model) focusFirst() {
	for f := range m.fields {
		m.fields[f].Blur()
	}
	m.compose.Blur()

	switch m.snap.Phase {
	case app.PhaseAuthenticated:
		m.compose.Focus()
	case app.PhaseAnonymous:
		mode := authflow.ModeLogin
		if m.snap.Auth != nil {
			mode = m.snap.Auth.Mode
		}
		fields := fieldsFor(mode)
		if m.focus >= len(fields) {
			m.focus = 0
		}
		m.fields[fields[m.focus]].Focus()
	}
}

func (m *Model) moveFocus(delta int) {
	if m.snap.Auth == nil {
		return
	}
	n := len(fieldsFor(m.snap.Auth.Mode))
	m.focus = (m.focus + delta + n) % n
	m.focusFirst()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	inner := max(width-4, 10)
	for f := range m.fields {
		m.fields[f].Width = max(inner-16, 10)
	}
	m.compose.Width = max(inner-2, 10)
	m.log.Width = inner
	m.log.Height = max(height-8, 3)
	m.help.Width = width
	if m.snap.Chat != nil {
		m.log.SetContent(m.renderLog(m.snap.Chat.Log))
	}
}

// statusFor maps action errors that are not already part of the controller
// state to a one-line status message.
func statusFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, authflow.ErrCooldown):
		return "Please wait before requesting another OTP"
	case errors.Is(err, authflow.ErrBusy):
		return "Please wait for the current request to finish"
	case errors.Is(err, conversation.ErrSendPending):
		return "Waiting for the previous reply"
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, authflow.ErrWrongMode),
		errors.Is(err, authflow.ErrClosed),
		errors.Is(err, conversation.ErrLoggedOut):
		return ""
	}
	if domain.KindOf(err) != 0 {
		// Rendered from the auth state.
		return ""
	}
	return err.Error()
}
