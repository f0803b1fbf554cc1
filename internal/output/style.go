package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// DefaultWidth is used when the writer is not a terminal.
const DefaultWidth = 100

// Palette holds the styles used for terminal output. The plain palette
// renders text unchanged.
type Palette struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Accent  lipgloss.Style
	Border  lipgloss.Style
}

// Catppuccin mocha, the same colors the dashboard uses.
var (
	colorText     = lipgloss.Color("#cdd6f4")
	colorOverlay  = lipgloss.Color("#6c7086")
	colorGreen    = lipgloss.Color("#a6e3a1")
	colorYellow   = lipgloss.Color("#f9e2af")
	colorRed      = lipgloss.Color("#f38ba8")
	colorBlue     = lipgloss.Color("#89b4fa")
	colorLavender = lipgloss.Color("#b4befe")
	colorSurface  = lipgloss.Color("#45475a")
)

// ColorPalette returns the styled palette.
func ColorPalette() Palette {
	return Palette{
		Title:   lipgloss.NewStyle().Foreground(colorLavender).Bold(true),
		Header:  lipgloss.NewStyle().Foreground(colorBlue).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorOverlay),
		Success: lipgloss.NewStyle().Foreground(colorGreen),
		Warning: lipgloss.NewStyle().Foreground(colorYellow),
		Error:   lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(colorText),
		Accent:  lipgloss.NewStyle().Foreground(colorLavender),
		Border:  lipgloss.NewStyle().Foreground(colorSurface),
	}
}

// PlainPalette returns a palette with no styling.
func PlainPalette() Palette {
	plain := lipgloss.NewStyle()
	return Palette{plain, plain, plain, plain, plain, plain, plain, plain, plain}
}

// PaletteFor returns the color palette when w is a terminal and NO_COLOR
// is unset.
func PaletteFor(w io.Writer) Palette {
	if UseColor(w) {
		return ColorPalette()
	}
	return PlainPalette()
}

// Status styles a run status by how it ended.
func (p Palette) Status(s convergence.Status) string {
	switch s {
	case convergence.StatusConverged:
		return p.Success.Render(string(s))
	case convergence.StatusMajorityAccepted, convergence.StatusForked:
		return p.Warning.Render(string(s))
	case convergence.StatusDiverged:
		return p.Error.Render(string(s))
	}
	return p.Info.Render(string(s))
}

// Response styles a response type.
func (p Palette) Response(t response.Type) string {
	switch t {
	case response.TypeAccept:
		return p.Success.Render(string(t))
	case response.TypeAcceptWithReservations:
		return p.Warning.Render(string(t))
	case response.TypeObject, response.TypeOptOut:
		return p.Error.Render(string(t))
	}
	return string(t)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// UseColor reports whether output to w should be styled.
func UseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(w)
}

// TerminalWidth returns the width of the terminal behind w, or
// DefaultWidth.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return width
}
