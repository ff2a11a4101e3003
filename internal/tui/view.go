package tui

import (
	"fmt"
	"strings"

	"github.com/ashureev/chatify/internal/app"
	"github.com/ashureev/chatify/internal/authflow"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/session"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current screen.
func (m Model) View() string {
	var body string
	switch m.snap.Phase {
	case app.PhaseAnonymous:
		body = m.viewAuth()
	case app.PhaseAuthenticated:
		body = m.viewChat()
	default:
		body = m.spin.View() + " Checking session..."
	}

	parts := []string{m.viewHeader(), body}
	if m.status != "" {
		parts = append(parts, m.styles.status.Render(m.status))
	}
	parts = append(parts, m.help.ShortHelpView(m.bindings()))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewHeader() string {
	title := m.styles.title.Render("Chatify")
	if m.snap.Phase == app.PhaseAuthenticated {
		return title + "  " + m.styles.subtitle.Render("signed in as "+m.snap.User.DisplayName())
	}
	return title
}

func (m Model) viewAuth() string {
	auth := m.snap.Auth
	if auth == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.subtitle.Render(modeTitle(auth.Mode)))
	b.WriteString("\n\n")

	if auth.Mode == authflow.ModeResetConfirm && auth.Challenge != nil {
		fmt.Fprintf(&b, "%s%s\n", m.styles.label.Render("Email"), auth.Challenge.Email)
	}
	for _, f := range fieldsFor(auth.Mode) {
		b.WriteString(m.styles.label.Render(fieldLabels[f]))
		b.WriteString(m.fields[f].View())
		b.WriteString("\n")
	}

	if auth.Mode == authflow.ModeResetConfirm {
		b.WriteString("\n")
		if auth.CanResend() {
			b.WriteString(m.styles.notice.Render(auth.ResendLabel()))
		} else {
			b.WriteString(m.styles.faint.Render(auth.ResendLabel()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case auth.Submitting:
		b.WriteString(m.spin.View() + " Please wait...")
	case auth.Err != nil:
		b.WriteString(m.styles.errText.Render(auth.Err.Message))
	case auth.Notice != "":
		b.WriteString(m.styles.notice.Render(auth.Notice))
	case m.snap.Reason == session.ReasonUnreachable:
		b.WriteString(m.styles.errText.Render(domain.NetworkErrorMessage))
	}
	return m.styles.box.Render(b.String())
}

func modeTitle(mode authflow.Mode) string {
	switch mode {
	case authflow.ModeRegister:
		return "Create an account"
	case authflow.ModeResetRequestOTP:
		return "Reset password"
	case authflow.ModeResetConfirm:
		return "Enter the OTP from your email"
	default:
		return "Sign in"
	}
}

func (m Model) viewChat() string {
	chat := m.snap.Chat
	if chat == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.log.View())
	b.WriteString("\n")
	if chat.Pending {
		b.WriteString(m.spin.View() + " " + m.styles.faint.Render("Thinking..."))
	}
	b.WriteString("\n")
	b.WriteString(m.compose.View())
	return b.String()
}

func (m Model) renderLog(log []domain.Message) string {
	if len(log) == 0 {
		return m.styles.faint.Render("No messages yet. Say hello!")
	}
	width := max(m.log.Width-2, 10)
	blocks := make([]string, 0, len(log))
	for _, msg := range log {
		if msg.IsUser() {
			blocks = append(blocks, m.styles.userName.Render("You")+"\n"+m.styles.userText.Width(width).Render(msg.Text))
			continue
		}
		blocks = append(blocks, m.styles.botName.Render("Chatify")+"\n"+m.styles.botText.Width(width).Render(msg.Text))
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) bindings() []key.Binding {
	k := m.keys
	switch m.snap.Phase {
	case app.PhaseAuthenticated:
		return []key.Binding{k.Send, k.NewChat, k.Logout, k.ScrollUp, k.Quit}
	case app.PhaseAnonymous:
		if m.snap.Auth == nil {
			return []key.Binding{k.Retry, k.Quit}
		}
		switch m.snap.Auth.Mode {
		case authflow.ModeLogin:
			return []key.Binding{k.Next, k.Submit, k.Toggle, k.Forgot, k.Retry, k.Quit}
		case authflow.ModeRegister:
			return []key.Binding{k.Next, k.Submit, k.Toggle, k.Back, k.Quit}
		case authflow.ModeResetConfirm:
			return []key.Binding{k.Next, k.Submit, k.Resend, k.Back, k.Quit}
		default:
			return []key.Binding{k.Submit, k.Back, k.Quit}
		}
	default:
		return []key.Binding{k.Quit}
	}
}
