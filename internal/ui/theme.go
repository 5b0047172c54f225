package ui

import (
	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Title     lipgloss.Style
	PaneTitle lipgloss.Style
	Help      lipgloss.Style

	RegName  lipgloss.Style
	Value    lipgloss.Style
	Changed  lipgloss.Style
	Dim      lipgloss.Style
	ErrorMsg lipgloss.Style

	StatusBar lipgloss.Style
	PaneLeft  lipgloss.Style
	PaneRight lipgloss.Style
	PaneWide  lipgloss.Style
}

func DefaultTheme() Theme {
	border := lipgloss.RoundedBorder()
	return Theme{
		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Blue
			Bold(true),

		PaneTitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),

		RegName: lipgloss.NewStyle().
			Foreground(lipgloss.Color("109")),

		Value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		Changed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // highlight deltas
			Bold(true),

		Dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),

		ErrorMsg: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		StatusBar: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("237")).
			Padding(0, 1),

		PaneLeft: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),

		PaneRight: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),

		PaneWide: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),
	}
}
