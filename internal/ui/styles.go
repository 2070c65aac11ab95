package ui

import "github.com/charmbracelet/lipgloss"

// Palette (ANSI 256).
const (
	ColorAccent   = "39"  // sky blue
	ColorAccentLo = "31"  // dimmed accent
	ColorText     = "255" // headers
	ColorMuted    = "245" // labels
	ColorFaint    = "238" // borders
	ColorRed      = "196"
	ColorYellow   = "220"
	ColorGreen    = "78"
)

// Styles holds the lipgloss styles shared by the renderers.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Border  lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:  fg(ColorAccent).Bold(true),
		Success: fg(ColorGreen),
		Warning: fg(ColorYellow),
		Error:   fg(ColorRed),
		Dim:     fg(ColorFaint),
		Active:  fg(ColorAccent).Bold(true),
		Label:   fg(ColorMuted),
		Value:   fg(ColorText),
		Border:  fg(ColorFaint),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:  plain,
		Success: plain,
		Warning: plain,
		Error:   plain,
		Dim:     plain,
		Active:  plain,
		Label:   plain,
		Value:   plain,
		Border:  plain,
	}
}

// GetStyles picks the style set for noColor, also honoring NO_COLOR.
func GetStyles(noColor bool) Styles {
	if noColor || DetectNoColor() {
		return NoColorStyles()
	}
	return DefaultStyles()
}
