package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/runner"
	"github.com/Dicklesworthstone/accord/internal/tui"
)

type runFlags struct {
	id        string
	noSave    bool
	live      bool
	altScreen bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a negotiation from a scenario file",
		Long: `Runs the scenario until it converges, is accepted by a majority, forks,
or diverges, then prints the outcome. The run is stored unless --no-save
is given or storage is disabled.

Examples:
  accord run dinner.yaml
  accord run dinner.yaml --tui
  accord run dinner.yaml --format=json --no-save
  accord run dinner.yaml --id friday-dinner`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScenario(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.id, "id", "", "run ID (default: a new UUID)")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "do not store the run")
	cmd.Flags().BoolVar(&f.live, "tui", false, "follow the run in a live terminal view")
	cmd.Flags().BoolVar(&f.altScreen, "alt-screen", false, "use the alternate screen for the live view")
	return cmd
}

func (a *app) runScenario(cmd *cobra.Command, path string, f runFlags) error {
	s, err := loadScenario(path)
	if err != nil {
		return err
	}
	r, err := a.openRunner()
	if err != nil {
		return err
	}
	defer r.Close()

	id := f.id
	if id == "" {
		id = uuid.NewString()
	}
	opts := []runner.RunOption{runner.WithRunID(id)}
	if f.noSave {
		opts = append(opts, runner.WithoutSave())
	}

	var st *convergence.RunState
	if f.live && a.format == output.FormatText && isInteractive() {
		ec := r.EngineConfig(s)
		data := tui.ProgressData{
			RunID:        id,
			Outcome:      s.Outcome,
			MaxRounds:    ec.MaxRounds,
			Participants: len(s.Participants),
			Threshold:    ec.AcceptanceThreshold,
		}
		st, err = tui.Run(cmd.Context(), data, func(ctx context.Context, obs convergence.Observer) (*convergence.RunState, error) {
			return r.Run(ctx, s, append(opts, runner.WithRunObserver(obs))...)
		}, tui.Options{AltScreen: f.altScreen})
	} else {
		if f.live {
			a.logger.Warn("live view needs an interactive terminal and text output, printing the report instead")
		}
		st, err = r.Run(cmd.Context(), s, opts...)
	}

	if st != nil {
		if rerr := output.RenderRun(cmd.OutOrStdout(), st, a.format); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
