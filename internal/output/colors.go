package output

import (
	"github.com/fatih/color"
)

// ColorScheme is the set of colors used by the console.
type ColorScheme struct {
	Title  *color.Color
	Border *color.Color
	Label  *color.Color
	Value  *color.Color
	Accent *color.Color
	Dim    *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:  color.New(color.Bold),
		Border: color.New(color.FgCyan),
		Label:  color.New(color.Bold),
		Value:  color.New(color.FgCyan),
		Accent: color.New(color.FgMagenta),
		Dim:    color.New(color.Faint),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed),
	}
}

// NoColorScheme returns a scheme with every color disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	s.each(func(c *color.Color) { c.DisableColor() })
	return s
}

// ForcedColorScheme returns a scheme that colors even when stdout is not a
// terminal.
func ForcedColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	s.each(func(c *color.Color) { c.EnableColor() })
	return s
}

func (s *ColorScheme) each(fn func(*color.Color)) {
	for _, c := range []*color.Color{s.Title, s.Border, s.Label, s.Value, s.Accent, s.Dim, s.Good, s.Warn, s.Bad} {
		fn(c)
	}
}

// rate picks Good, Warn or Bad for an error rate.
func (s *ColorScheme) rate(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Bad
	case errorRate > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}
