package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the elements of a report
type ColorScheme struct {
	Title  *color.Color
	Rule   *color.Color
	Label  *color.Color
	Value  *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Dim    *color.Color
	Accent *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:  color.New(color.Bold),
		Rule:   color.New(color.FgCyan),
		Label:  color.New(color.FgWhite),
		Value:  color.New(color.FgCyan),
		Good:   color.New(color.FgGreen, color.Bold),
		Warn:   color.New(color.FgYellow, color.Bold),
		Bad:    color.New(color.FgRed, color.Bold),
		Dim:    color.New(color.Faint),
		Accent: color.New(color.FgBlue),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns a color scheme that colors even when the
// process is not attached to a terminal
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Good, s.Warn, s.Bad, s.Dim, s.Accent}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
