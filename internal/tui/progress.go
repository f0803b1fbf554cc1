// Package tui is the live terminal view of a running negotiation.
package tui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/tui/layout"
	"github.com/Dicklesworthstone/accord/internal/tui/styles"
)

// RoundLine is the tally of one completed round.
type RoundLine struct {
	Index int
	Tally response.Tally
}

// ProgressData is what the progress panel shows.
type ProgressData struct {
	RunID        string
	Outcome      string
	Status       convergence.Status
	Reason       string
	Round        int
	MaxRounds    int
	Participants int
	Threshold    float64
	Lines        []RoundLine
	Forks        int
}

// RoundProgress renders round-by-round progress of a run.
type RoundProgress struct {
	Width int

	data       ProgressData
	bar        progress.Model
	spin       spinner.Model
	lastStatus convergence.Status
	forks      map[string]struct{}
	logger     *slog.Logger
}

// NewRoundProgress creates the panel.
func NewRoundProgress(width int, data ProgressData) *RoundProgress {
	th := styles.Current()
	from, to := th.Gradient()
	opts := []progress.Option{progress.WithWidth(clampInt(width-10, 12, 60))}
	if from != "" {
		opts = append(opts, progress.WithGradient(from, to))
	} else {
		opts = append(opts, progress.WithoutPercentage(), progress.WithFillCharacters('#', '.'))
	}
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(th.Mauve)

	p := &RoundProgress{
		Width:  width,
		bar:    progress.New(opts...),
		spin:   spin,
		forks:  make(map[string]struct{}),
		logger: slog.Default(),
	}
	p.SetData(data)
	return p
}

// SetData replaces the panel state.
func (p *RoundProgress) SetData(data ProgressData) {
	if data.Status == "" {
		data.Status = convergence.StatusStructuring
	}
	if p.lastStatus != data.Status {
		p.logger.Debug("live view status", "run_id", data.RunID, "from", p.lastStatus, "to", data.Status)
		p.lastStatus = data.Status
	}
	p.data = data
}

// Data returns the current panel state.
func (p *RoundProgress) Data() ProgressData { return p.data }

// Apply folds an engine event into the panel. Events of forks only
// count forks.
func (p *RoundProgress) Apply(ev convergence.Event) {
	d := p.data
	if ev.Depth > 0 {
		p.forks[ev.RunID] = struct{}{}
		d.Forks = len(p.forks)
		p.SetData(d)
		return
	}
	d.Status = ev.Status
	if ev.Round > d.Round {
		d.Round = ev.Round
	}
	if ev.Reason != "" {
		d.Reason = ev.Reason
	}
	if ev.Type == convergence.EventRound && ev.Tally != nil {
		d.Lines = append(d.Lines, RoundLine{Index: ev.Round, Tally: *ev.Tally})
	}
	p.SetData(d)
}

// Init starts the spinner.
func (p *RoundProgress) Init() tea.Cmd {
	return p.spin.Tick
}

// Update advances the spinner while the run is live.
func (p *RoundProgress) Update(msg tea.Msg) (*RoundProgress, tea.Cmd) {
	if p.data.Status.IsTerminal() {
		return p, nil
	}
	var cmd tea.Cmd
	p.spin, cmd = p.spin.Update(msg)
	return p, cmd
}

// Fraction is the share of the round budget used so far.
func (p *RoundProgress) Fraction() float64 {
	if p.data.Status.IsTerminal() {
		return 1
	}
	if p.data.MaxRounds <= 0 {
		return 0
	}
	return clampFloat(float64(len(p.data.Lines))/float64(p.data.MaxRounds), 0, 1)
}

// View renders the panel.
func (p *RoundProgress) View() string {
	th := styles.Current()
	width := p.Width
	if width <= 0 {
		width = 60
	}
	p.bar.Width = clampInt(width-10, 12, 60)

	var b strings.Builder
	title := lipgloss.NewStyle().Foreground(th.Lavender).Bold(true).Render("accord")
	outcome := layout.Truncate(p.data.Outcome, maxInt(width-10, 10))
	b.WriteString(title + "  " + lipgloss.NewStyle().Foreground(th.Text).Render(outcome) + "\n")

	status := statusBadge(th, p.data.Status)
	if !p.data.Status.IsTerminal() {
		status = p.spin.View() + " " + status
	}
	roundText := fmt.Sprintf("round %d", p.data.Round)
	if p.data.MaxRounds > 0 {
		roundText = fmt.Sprintf("round %d/%d", p.data.Round, p.data.MaxRounds)
	}
	meta := []string{roundText, fmt.Sprintf("%d participants", p.data.Participants)}
	if p.data.Forks > 0 {
		meta = append(meta, fmt.Sprintf("%d fork(s)", p.data.Forks))
	}
	b.WriteString(status + "  " + lipgloss.NewStyle().Foreground(th.Subtext).Render(strings.Join(meta, " · ")) + "\n")
	if p.data.Reason != "" && p.data.Status.IsTerminal() {
		b.WriteString(lipgloss.NewStyle().Foreground(th.Subtext).Render("reason: "+p.data.Reason) + "\n")
	}
	b.WriteString(p.bar.ViewAs(p.Fraction()) + "\n")

	if len(p.data.Lines) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(th.Overlay).Italic(true).Render("waiting for the first round"))
		return lipgloss.NewStyle().Width(width).Render(b.String())
	}
	b.WriteString("\n")
	for _, line := range p.data.Lines {
		b.WriteString(p.renderLine(th, line, width) + "\n")
	}
	return lipgloss.NewStyle().Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (p *RoundProgress) renderLine(th styles.Theme, line RoundLine, width int) string {
	t := line.Tally
	total := t.Accept + t.AcceptWithReservations + t.Object + t.OptOut
	rate := 0.0
	if total > 0 {
		rate = float64(t.Accepting()) / float64(total)
	}
	rateStyle := lipgloss.NewStyle().Foreground(th.Red)
	switch {
	case rate >= 1:
		rateStyle = rateStyle.Foreground(th.Green)
	case p.data.Threshold > 0 && rate >= p.data.Threshold:
		rateStyle = rateStyle.Foreground(th.Yellow)
	}
	text := fmt.Sprintf("R%-2d ✓%d ~%d ✗%d ⊘%d", line.Index, t.Accept, t.AcceptWithReservations, t.Object, t.OptOut)
	return layout.Truncate(text, width-8) + "  " + rateStyle.Render(fmt.Sprintf("%3.0f%%", rate*100))
}

func statusBadge(th styles.Theme, s convergence.Status) string {
	opts := styles.BadgeOptions{Bold: true}
	switch s {
	case convergence.StatusConverged:
		return styles.TextBadge("CONVERGED", th.Green, th.Base, opts)
	case convergence.StatusMajorityAccepted:
		return styles.TextBadge("MAJORITY", th.Yellow, th.Base, opts)
	case convergence.StatusForked:
		return styles.TextBadge("FORKED", th.Peach, th.Base, opts)
	case convergence.StatusDiverged:
		return styles.TextBadge("DIVERGED", th.Red, th.Base, opts)
	}
	return styles.TextBadge(strings.ToUpper(string(s)), th.Surface1, th.Text, opts)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
