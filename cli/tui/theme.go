package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme bundles the lipgloss styles used by the inspector.
type Theme struct {
	TitleStyle         lipgloss.Style
	BorderStyle        lipgloss.Style
	PreviewBorderStyle lipgloss.Style
	DirectoryStyle     lipgloss.Style
	FileStyle          lipgloss.Style
	SelectedItemStyle  lipgloss.Style
	PreviewStyle       lipgloss.Style
	StatusBarStyle     lipgloss.Style
	ErrorStyle         lipgloss.Style
	HelpStyle          lipgloss.Style
}

func DefaultTheme() *Theme {
	return &Theme{
		TitleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1),
		BorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),
		PreviewBorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")),
		DirectoryStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
		FileStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		SelectedItemStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")),
		PreviewStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		ErrorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		HelpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1),
	}
}
