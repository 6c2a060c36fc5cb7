package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Outcome styles
var (
	StyleRunning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	StyleCompleted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	StyleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	StyleStopped = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	StyleMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
