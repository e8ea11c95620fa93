package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorBlue     lipgloss.Color = "#89b4fa"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	headingStyle = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	textStyle    = lipgloss.NewStyle().Foreground(colorText)
	passStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed)
	pendingStyle = lipgloss.NewStyle().Foreground(colorYellow)
	noteStyle    = lipgloss.NewStyle().Foreground(colorOverlay1)
	hintStyle    = lipgloss.NewStyle().Foreground(colorOverlay1)
	cursorStyle  = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	panelStyle   = lipgloss.NewStyle().Padding(0, 1)
)
