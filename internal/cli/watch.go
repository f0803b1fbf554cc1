package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/runner"
	"github.com/Dicklesworthstone/accord/internal/scenario"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		save     bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <scenario.yaml>",
		Short: "Re-run a scenario every time the file is saved",
		Long: `Runs the scenario once, then again after each save, printing each
outcome. A save that leaves the file invalid prints the error and waits
for the next one. Runs are not stored unless --save is given.

Examples:
  accord watch dinner.yaml
  accord watch dinner.yaml --format=json --save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watchScenario(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], save, debounce)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "store every run")
	cmd.Flags().DurationVar(&debounce, "debounce", scenario.DefaultDebounce, "quiet period after a save before re-running")
	return cmd
}

func (a *app) watchScenario(ctx context.Context, stdout, stderr io.Writer, path string, save bool, debounce time.Duration) error {
	s, err := loadScenario(path)
	if err != nil {
		return err
	}
	r, err := a.openRunner()
	if err != nil {
		return err
	}
	defer r.Close()

	runOnce := func(s *scenario.Scenario) {
		var opts []runner.RunOption
		if !save {
			opts = append(opts, runner.WithoutSave())
		}
		st, err := r.Run(ctx, s, opts...)
		if st != nil {
			if rerr := output.RenderRun(stdout, st, a.format); rerr != nil {
				a.logger.Warn("render failed", "error", rerr)
			}
		}
		if err != nil {
			output.WriteError(stderr, err, output.FormatText)
		}
	}

	runOnce(s)

	w, err := scenario.Watch(path, func(s *scenario.Scenario, err error) {
		if err != nil {
			output.WriteError(stderr, output.ScenarioLoadError(path, err), output.FormatText)
			return
		}
		if !a.format.IsStructured() {
			p := output.PaletteFor(stdout)
			fmt.Fprintf(stdout, "\n%s\n", p.Muted.Render(fmt.Sprintf("%s changed, running again", path)))
		}
		runOnce(s)
	}, scenario.WithDebounce(debounce), scenario.WithWatchLogger(a.logger))
	if err != nil {
		return err
	}
	a.logger.Info("watching scenario", "path", w.Path())
	return w.Wait(ctx)
}
