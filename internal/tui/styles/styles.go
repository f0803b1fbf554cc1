// Package styles holds the colors and small rendering helpers of the live
// view.
package styles

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Theme is a Catppuccin flavor.
type Theme struct {
	Name     string
	Base     lipgloss.Color
	Surface1 lipgloss.Color
	Overlay  lipgloss.Color
	Subtext  lipgloss.Color
	Text     lipgloss.Color
	Blue     lipgloss.Color
	Lavender lipgloss.Color
	Mauve    lipgloss.Color
	Pink     lipgloss.Color
	Green    lipgloss.Color
	Yellow   lipgloss.Color
	Peach    lipgloss.Color
	Red      lipgloss.Color
}

var (
	CatppuccinMocha = Theme{
		Name:     "mocha",
		Base:     "#1e1e2e",
		Surface1: "#45475a",
		Overlay:  "#6c7086",
		Subtext:  "#a6adc8",
		Text:     "#cdd6f4",
		Blue:     "#89b4fa",
		Lavender: "#b4befe",
		Mauve:    "#cba6f7",
		Pink:     "#f5c2e7",
		Green:    "#a6e3a1",
		Yellow:   "#f9e2af",
		Peach:    "#fab387",
		Red:      "#f38ba8",
	}
	CatppuccinLatte = Theme{
		Name:     "latte",
		Base:     "#eff1f5",
		Surface1: "#bcc0cc",
		Overlay:  "#9ca0b0",
		Subtext:  "#6c6f85",
		Text:     "#4c4f69",
		Blue:     "#1e66f5",
		Lavender: "#7287fd",
		Mauve:    "#8839ef",
		Pink:     "#ea76cb",
		Green:    "#40a02b",
		Yellow:   "#df8e1d",
		Peach:    "#fe640b",
		Red:      "#d20f39",
	}
	// Plain has no colors at all; lipgloss renders empty colors as the
	// terminal default.
	Plain = Theme{Name: "plain"}
)

// Current picks the theme from ACCORD_THEME (mocha, latte or plain).
// NO_COLOR forces plain.
func Current() Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return Plain
	}
	switch strings.ToLower(os.Getenv("ACCORD_THEME")) {
	case "latte", "light":
		return CatppuccinLatte
	case "plain", "none":
		return Plain
	default:
		return CatppuccinMocha
	}
}

// Gradient returns the progress bar gradient endpoints for t.
func (t Theme) Gradient() (string, string) {
	if t.Name == Plain.Name {
		return "", ""
	}
	return string(t.Blue), string(t.Mauve)
}

// BadgeOptions control TextBadge.
type BadgeOptions struct {
	Bold bool
	// FixedWidth pads or truncates the label to this many cells.
	FixedWidth int
}

// TextBadge renders a short label on a colored background.
func TextBadge(label string, bg, fg lipgloss.Color, opts BadgeOptions) string {
	if opts.FixedWidth > 0 {
		label = runewidth.FillRight(runewidth.Truncate(label, opts.FixedWidth, ""), opts.FixedWidth)
	}
	style := lipgloss.NewStyle().Padding(0, 1).Bold(opts.Bold)
	if bg != "" {
		style = style.Background(bg)
	}
	if fg != "" {
		style = style.Foreground(fg)
	}
	return style.Render(label)
}
