package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
)

func roundEvent(n int, tally response.Tally) EventMsg {
	return EventMsg{Event: convergence.Event{
		Type:   convergence.EventRound,
		RunID:  "run-1",
		Round:  n,
		Status: convergence.StatusEvaluating,
		Tally:  &tally,
	}}
}

func finishedState() *convergence.RunState {
	return &convergence.RunState{
		ID:     "run-1",
		Status: convergence.StatusConverged,
		Round:  2,
		History: []convergence.Round{
			{
				Index:    1,
				Combined: proposal.Proposal{Content: "Taqueria on 5th"},
				Responses: map[constraint.ParticipantID]response.Response{
					"alice": {Type: response.TypeAccept},
					"bob":   {Type: response.TypeObject, Reason: "not vegan"},
				},
				Tally: response.Tally{Accept: 1, Object: 1},
			},
			{
				Index:    2,
				Combined: proposal.Proposal{Content: "Green Leaf downtown"},
				Responses: map[constraint.ParticipantID]response.Response{
					"alice": {Type: response.TypeAccept},
					"bob":   {Type: response.TypeAccept},
				},
				Tally: response.Tally{Accept: 2},
			},
		},
		Result: &convergence.Result{Status: convergence.StatusConverged, Reason: convergence.ReasonConsensus},
	}
}

func TestRoundProgressApply(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	p := NewRoundProgress(60, ProgressData{RunID: "run-1", Outcome: "Friday dinner", MaxRounds: 4, Participants: 2})

	view := p.View()
	if !strings.Contains(view, "waiting for the first round") || !strings.Contains(view, "round 0/4") {
		t.Errorf("initial view = %q", view)
	}

	p.Apply(roundEvent(1, response.Tally{Accept: 1, Object: 1}).Event)
	p.Apply(convergence.Event{Type: convergence.EventStatus, RunID: "fork-a", Depth: 1, Status: convergence.StatusProposing})
	p.Apply(convergence.Event{Type: convergence.EventRound, RunID: "fork-a", Depth: 1, Round: 1})

	d := p.Data()
	if len(d.Lines) != 1 || d.Round != 1 || d.Forks != 1 {
		t.Fatalf("data = %+v", d)
	}
	if got := p.Fraction(); got != 0.25 {
		t.Errorf("Fraction = %v", got)
	}
	view = p.View()
	if !strings.Contains(view, "R1") || !strings.Contains(view, "50%") || !strings.Contains(view, "1 fork(s)") {
		t.Errorf("view = %q", view)
	}

	p.Apply(convergence.Event{Type: convergence.EventFinished, RunID: "run-1", Round: 1, Status: convergence.StatusDiverged, Reason: "max-rounds"})
	if p.Fraction() != 1 {
		t.Errorf("terminal Fraction = %v", p.Fraction())
	}
	if view := p.View(); !strings.Contains(view, "DIVERGED") || !strings.Contains(view, "reason: max-rounds") {
		t.Errorf("terminal view = %q", view)
	}
}

func TestModelFollowsRun(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	canceled := false
	var m tea.Model = New(ProgressData{RunID: "run-1", Outcome: "Friday dinner", MaxRounds: 3, Participants: 2}, func() { canceled = true })
	m, _ = m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})

	m, _ = m.Update(roundEvent(1, response.Tally{Accept: 1, Object: 1}))
	m, _ = m.Update(roundEvent(2, response.Tally{Accept: 2}))
	if view := m.View(); !strings.Contains(view, "round details appear") {
		t.Errorf("live view = %q", view)
	}

	m, _ = m.Update(FinishedMsg{State: finishedState()})
	model := m.(Model)
	if model.State() == nil || model.Err() != nil {
		t.Fatal("finished state not kept")
	}
	view := m.View()
	for _, want := range []string{"CONVERGED", "Round 2 of 2", "Green Leaf downtown", "alice", "ACCEPT", "press q"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	view = m.View()
	if !strings.Contains(view, "Round 1 of 2") || !strings.Contains(view, "OBJECT") || !strings.Contains(view, "not vegan") {
		t.Errorf("round 1 view = %q", view)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q after finish should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}
	if canceled {
		t.Error("quitting a finished run should not cancel it")
	}
}

func TestModelQuitWhileRunningCancelsFirst(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	canceled := 0
	var m tea.Model = New(ProgressData{RunID: "run-1"}, func() { canceled++ })

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		t.Error("q during a run should wait for it")
	}
	if canceled != 1 {
		t.Errorf("cancel called %d times", canceled)
	}
	if view := m.View(); !strings.Contains(view, "canceling") {
		t.Errorf("view = %q", view)
	}

	_, cmd = m.Update(FinishedMsg{Err: errors.New("boom")})
	if cmd == nil {
		t.Fatal("finishing after q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit")
	}
}

func TestObserverSends(t *testing.T) {
	var got []tea.Msg
	obs := Observer{send: func(msg tea.Msg) { got = append(got, msg) }}
	var _ convergence.Observer = obs
	obs.Observe(convergence.Event{Type: convergence.EventStatus, RunID: "r"})
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	if ev, ok := got[0].(EventMsg); !ok || ev.Event.RunID != "r" {
		t.Errorf("got %#v", got[0])
	}
}

func TestRunReturnsStartResult(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var out strings.Builder
	want := finishedState()
	st, err := Run(context.Background(), ProgressData{RunID: "run-1"}, func(ctx context.Context, obs convergence.Observer) (*convergence.RunState, error) {
		obs.Observe(roundEvent(1, response.Tally{Accept: 2}).Event)
		return want, nil
	}, Options{Input: strings.NewReader("q"), Output: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st != want {
		t.Errorf("Run returned %+v", st)
	}
}
