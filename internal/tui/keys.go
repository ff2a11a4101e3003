package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit      key.Binding
	Next      key.Binding
	Prev      key.Binding
	Submit    key.Binding
	Toggle    key.Binding
	Forgot    key.Binding
	Back      key.Binding
	Resend    key.Binding
	Retry     key.Binding
	Send      key.Binding
	NewChat   key.Binding
	Logout    key.Binding
	ScrollUp  key.Binding
	ScrollDwn key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Next:      key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next field")),
		Prev:      key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "prev field")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
		Toggle:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "login/register")),
		Forgot:    key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "forgot password")),
		Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back to login")),
		Resend:    key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "resend OTP")),
		Retry:     key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "retry connection")),
		Send:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewChat:   key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
		Logout:    key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "log out")),
		ScrollUp:  key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDwn: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "scroll down")),
	}
}
