// Package theme holds the terminal styles used by command output.
package theme

import (
	"fmt"

	"charm.land/lipgloss/v2"
)

// Color palette
var (
	Primary = lipgloss.Color("#8B5CF6") // Vivid Purple
	Accent  = lipgloss.Color("#F97316") // Orange
	Success = lipgloss.Color("#22C55E") // Green
	Error   = lipgloss.Color("#F43F5E") // Rose
	TextDim = lipgloss.Color("#94A3B8") // Slate
	Border  = lipgloss.Color("#334155") // Slate
)

var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Label = lipgloss.NewStyle().
		Foreground(TextDim).
		Width(14)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Action = lipgloss.NewStyle().
		Foreground(Accent).
		Bold(true)

	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)

	Good = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Bad = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// Field renders a right-padded label followed by its value.
func Field(label, value string) string {
	return Label.Render(label) + " " + value
}

// Score renders v with two decimals, green at or above pass and red below.
func Score(v, pass float64) string {
	s := Bad
	if v >= pass {
		s = Good
	}
	return s.Render(fmt.Sprintf("%.2f", v))
}
