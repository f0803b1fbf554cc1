package tui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/accord/internal/convergence"
)

// StartFunc runs a negotiation, reporting events to obs.
type StartFunc func(ctx context.Context, obs convergence.Observer) (*convergence.RunState, error)

// Options configure Run.
type Options struct {
	Input     io.Reader
	Output    io.Writer
	AltScreen bool
}

// Run shows the live view while start runs, and returns what start
// returned. Leaving the view early cancels the run and waits for it to
// finish.
func Run(ctx context.Context, data ProgressData, start StartFunc, opts Options) (*convergence.RunState, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	if opts.AltScreen {
		progOpts = append(progOpts, tea.WithAltScreen())
	}
	p := tea.NewProgram(New(data, cancel), progOpts...)

	type result struct {
		st  *convergence.RunState
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := start(runCtx, NewObserver(p))
		done <- result{st, err}
		p.Send(FinishedMsg{State: st, Err: err})
	}()

	_, uiErr := p.Run()
	cancel()
	res := <-done
	if res.err == nil && uiErr != nil && ctx.Err() == nil {
		return res.st, uiErr
	}
	return res.st, res.err
}
