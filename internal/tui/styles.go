package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	subtitle lipgloss.Style
	label    lipgloss.Style
	errText  lipgloss.Style
	notice   lipgloss.Style
	status   lipgloss.Style
	userName lipgloss.Style
	botName  lipgloss.Style
	userText lipgloss.Style
	botText  lipgloss.Style
	faint    lipgloss.Style
	box      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		subtitle: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Width(14),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		userName: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		botName:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		userText: lipgloss.NewStyle().PaddingLeft(2),
		botText:  lipgloss.NewStyle().PaddingLeft(2),
		faint:    lipgloss.NewStyle().Faint(true),
		box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1),
	}
}
