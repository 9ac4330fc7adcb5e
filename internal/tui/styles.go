package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/chatsync/internal/styles"
)

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(styles.ColorGray)

	focusedPaneStyle = paneStyle.
				BorderForeground(styles.ColorBlue)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.ColorBlue).
			PaddingLeft(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(styles.ColorBlue).
			Bold(true)

	normalStyle = lipgloss.NewStyle()

	mutedStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray)

	onlineStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.ColorRed)

	typingStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray).
			Italic(true)

	inputPromptStyle = lipgloss.NewStyle().
				Foreground(styles.ColorBlue)

	helpStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray)
)

// Icons and symbols.
const (
	iconDot    = "•"
	iconOnline = "●"
	iconCursor = "▌"
)
