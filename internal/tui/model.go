package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/tui/layout"
	"github.com/Dicklesworthstone/accord/internal/tui/styles"
)

// EventMsg carries an engine event into the program.
type EventMsg struct {
	Event convergence.Event
}

// FinishedMsg is sent once the run has returned.
type FinishedMsg struct {
	State *convergence.RunState
	Err   error
}

// Observer forwards engine events to a running program.
type Observer struct {
	send func(tea.Msg)
}

// NewObserver returns an observer that sends to p.
func NewObserver(p *tea.Program) Observer {
	return Observer{send: p.Send}
}

// Observe implements convergence.Observer.
func (o Observer) Observe(ev convergence.Event) {
	o.send(EventMsg{Event: ev})
}

// KeyMap defines the live view keybindings.
type KeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Cancel key.Binding
	Quit   key.Binding
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Cancel, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = KeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous round")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next round")),
	Cancel: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel run")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the live view of one run.
type Model struct {
	progress *RoundProgress
	help     help.Model
	cancel   context.CancelFunc

	width  int
	height int

	state    *convergence.RunState
	err      error
	cursor   int
	done     bool
	quitting bool
	canceled bool
}

// New creates the model. cancel stops the run; it is called when the
// user cancels or quits early.
func New(data ProgressData, cancel context.CancelFunc) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return Model{
		progress: NewRoundProgress(60, data),
		help:     help.New(),
		cancel:   cancel,
		width:    80,
	}
}

// State returns the finished run, or nil while it is still going.
func (m Model) State() *convergence.RunState { return m.state }

// Err returns the error the run finished with.
func (m Model) Err() error { return m.err }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.progress.Init()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.done {
				return m, tea.Quit
			}
			m.quitting = true
			m.cancel()
			return m, nil
		case key.Matches(msg, keys.Cancel):
			if !m.done && !m.canceled {
				m.canceled = true
				m.cancel()
			}
			return m, nil
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.cursor < m.roundCount()-1 {
				m.cursor++
			}
			return m, nil
		}

	case EventMsg:
		m.progress.Apply(msg.Event)
		if msg.Event.Depth == 0 && msg.Event.Type == convergence.EventRound {
			m.cursor = m.roundCount() - 1
		}
		return m, nil

	case FinishedMsg:
		m.done = true
		m.state, m.err = msg.State, msg.Err
		if st := msg.State; st != nil {
			d := m.progress.Data()
			d.Status = st.Status
			d.Round = st.Round
			d.Forks = len(st.Forks)
			if st.Result != nil {
				d.Reason = st.Result.Reason
			}
			d.Lines = d.Lines[:0]
			for _, r := range st.History {
				d.Lines = append(d.Lines, RoundLine{Index: r.Index, Tally: r.Tally})
			}
			m.progress.SetData(d)
			m.cursor = clampInt(m.cursor, 0, maxInt(len(st.History)-1, 0))
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.progress, cmd = m.progress.Update(msg)
	return m, cmd
}

func (m Model) roundCount() int {
	if m.state != nil {
		return len(m.state.History)
	}
	return len(m.progress.Data().Lines)
}

// View implements tea.Model.
func (m Model) View() string {
	th := styles.Current()
	left, right := layout.SplitProportions(m.width)

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(th.Surface1).
		Padding(0, 1)

	m.progress.Width = left - 4
	body := panel.Width(left).Render(m.progress.View())
	detail := m.detailView(maxInt(right, left))
	if right > 0 {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, panel.Width(right).Render(detail))
	} else if detail != "" {
		body = lipgloss.JoinVertical(lipgloss.Left, body, panel.Width(left).Render(detail))
	}

	var footer string
	switch {
	case m.quitting && !m.done:
		footer = lipgloss.NewStyle().Foreground(th.Yellow).Render("canceling, waiting for the run to stop…")
	case m.err != nil:
		footer = lipgloss.NewStyle().Foreground(th.Red).Render("error: " + m.err.Error())
	case m.done:
		footer = lipgloss.NewStyle().Foreground(th.Subtext).Render("run finished, press q to leave")
	}
	parts := []string{body}
	if footer != "" {
		parts = append(parts, footer)
	}
	parts = append(parts, m.help.View(keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// detailView shows the selected round. Per-participant responses are only
// known once the run has finished.
func (m Model) detailView(width int) string {
	th := styles.Current()
	if m.state == nil || len(m.state.History) == 0 {
		if m.tier() == layout.TierNarrow {
			return ""
		}
		return lipgloss.NewStyle().Foreground(th.Overlay).Italic(true).
			Render("round details appear when the run finishes")
	}
	r := m.state.History[clampInt(m.cursor, 0, len(m.state.History)-1)]

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(th.Lavender).Bold(true).
		Render(fmt.Sprintf("Round %d of %d", r.Index, len(m.state.History))) + "\n")
	plan := strings.TrimSpace(r.Combined.Content)
	if plan == "" {
		plan = "(no plan)"
	}
	for _, line := range strings.Split(plan, "\n") {
		b.WriteString(lipgloss.NewStyle().Foreground(th.Text).Render(layout.Truncate(line, width-4)) + "\n")
	}
	if r.Unverified {
		b.WriteString(lipgloss.NewStyle().Foreground(th.Yellow).Render("unverified proposal") + "\n")
	}
	b.WriteString("\n")

	ids := make([]constraint.ParticipantID, 0, len(r.Responses))
	for id := range r.Responses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		resp := r.Responses[id]
		line := fmt.Sprintf("%-12s %s", layout.Truncate(string(id), 12), responseBadge(th, resp.Type))
		if m.tier() >= layout.TierWide && resp.Reason != "" {
			line += " " + lipgloss.NewStyle().Foreground(th.Subtext).Render(layout.Truncate(resp.Reason, width-32))
		}
		b.WriteString(line + "\n")
	}
	for _, t := range r.Tensions {
		b.WriteString(lipgloss.NewStyle().Foreground(th.Peach).Render(layout.Truncate("tension: "+t.Description, width-4)) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) tier() layout.Tier { return layout.TierForWidth(m.width) }

func responseBadge(th styles.Theme, t response.Type) string {
	opts := styles.BadgeOptions{FixedWidth: 8}
	switch t {
	case response.TypeAccept:
		return styles.TextBadge("ACCEPT", th.Green, th.Base, opts)
	case response.TypeAcceptWithReservations:
		return styles.TextBadge("RESERVED", th.Yellow, th.Base, opts)
	case response.TypeObject:
		return styles.TextBadge("OBJECT", th.Red, th.Base, opts)
	case response.TypeOptOut:
		return styles.TextBadge("OPT-OUT", th.Overlay, th.Base, opts)
	}
	return styles.TextBadge(string(t), th.Surface1, th.Text, opts)
}
