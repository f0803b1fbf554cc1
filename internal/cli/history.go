package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/record"
	"github.com/Dicklesworthstone/accord/internal/runner"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"runs"},
		Short:   "Inspect stored runs",
		Long: `Lists, shows, diffs, verifies and removes stored runs.

Examples:
  accord history list
  accord history show friday-dinner
  accord history round friday-dinner 2
  accord history diff friday-dinner 1 2
  accord history verify friday-dinner
  accord history clean --older-than 720h`,
	}

	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryRoundCmd(a),
		newHistoryDiffCmd(a),
		newHistoryVerifyCmd(a),
		newHistoryExportCmd(a),
		newHistoryDeleteCmd(a),
		newHistoryCleanCmd(a),
	)
	return cmd
}

// withRunner opens the runner, requiring storage, for the duration of fn.
func (a *app) withRunner(fn func(r *runner.Runner) error) error {
	r, err := a.openRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	if !r.HasStorage() {
		return output.StorageDisabledError()
	}
	return fn(r)
}

func newHistoryListCmd(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(func(r *runner.Runner) error {
				runs, err := r.List()
				if err != nil {
					return err
				}
				if status != "" {
					kept := runs[:0]
					for _, s := range runs {
						if strings.EqualFold(string(s.Status), status) {
							kept = append(kept, s)
						}
					}
					runs = kept
				}
				return output.RenderSummaries(cmd.OutOrStdout(), runs, a.format)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (converged, majority-accepted, forked, diverged)")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(func(r *runner.Runner) error {
				rec, err := loadRecord(r, args[0])
				if err != nil {
					return err
				}
				return output.RenderRun(cmd.OutOrStdout(), rec.Run, a.format)
			})
		},
	}
}

func newHistoryRoundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "round <run-id> <n>",
		Short: "Show one round of a stored run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseRoundArg("round", args[1])
			if err != nil {
				return err
			}
			return a.withRunner(func(r *runner.Runner) error {
				rec, err := loadRecord(r, args[0])
				if err != nil {
					return err
				}
				round, err := findRound(rec, n)
				if err != nil {
					return err
				}
				return output.RenderRound(cmd.OutOrStdout(), rec.ID(), round, a.format)
			})
		},
	}
}

func findRound(rec record.Record, n int) (convergence.Round, error) {
	for _, round := range rec.Run.History {
		if round.Index == n {
			return round, nil
		}
	}
	return convergence.Round{}, output.RoundOutOfRangeError(rec.ID(), n, len(rec.Run.History))
}

func newHistoryDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <run-id> [from] [to]",
		Short: "Show how the plan changed between two rounds",
		Long: `Diffs the combined proposal of two rounds and lists the responses and
tensions that changed. Without rounds, the last two rounds are compared.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(func(r *runner.Runner) error {
				rec, err := loadRecord(r, args[0])
				if err != nil {
					return err
				}
				from, to, err := diffRange(rec, args[1:])
				if err != nil {
					return err
				}
				ra, err := findRound(rec, from)
				if err != nil {
					return err
				}
				rb, err := findRound(rec, to)
				if err != nil {
					return err
				}
				return output.RenderDiff(cmd.OutOrStdout(), record.DiffRounds(ra, rb), a.format)
			})
		},
	}
}

func diffRange(rec record.Record, args []string) (int, int, error) {
	history := rec.Run.History
	switch len(args) {
	case 0:
		if len(history) < 2 {
			return 0, 0, output.RoundOutOfRangeError(rec.ID(), 2, len(history))
		}
		return history[len(history)-2].Index, history[len(history)-1].Index, nil
	case 1:
		from, err := parseRoundArg("from", args[0])
		if err != nil {
			return 0, 0, err
		}
		return from, from + 1, nil
	}
	from, err := parseRoundArg("from", args[0])
	if err != nil {
		return 0, 0, err
	}
	to, err := parseRoundArg("to", args[1])
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func newHistoryVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Replay a stored run's classifications and report any drift",
		Long: `Re-classifies every recorded response against the recorded proposals
with the current lexicon and the run's own settings. Exits 1 when any
response would now come out differently.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(func(r *runner.Runner) error {
				rec, err := loadRecord(r, args[0])
				if err != nil {
					return err
				}
				ds := record.Verify(rec, r.Lexicon(), rec.Config.Policy())
				if err := output.RenderDiscrepancies(cmd.OutOrStdout(), rec.ID(), ds, a.format); err != nil {
					return err
				}
				if len(ds) > 0 {
					return &exitError{code: 1}
				}
				return nil
			})
		},
	}
}

func newHistoryExportCmd(a *app) *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write the full record of a stored run",
		Long: `Writes the versioned run record, including the engine settings it ran
under, as JSON or YAML. The output can be verified later.

Examples:
  accord history export friday-dinner > friday.json
  accord history export friday-dinner --as yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := record.ParseFormat(as)
			if err != nil {
				return output.InvalidFlagError("as", as, "json or yaml")
			}
			return a.withRunner(func(r *runner.Runner) error {
				rec, err := loadRecord(r, args[0])
				if err != nil {
					return err
				}
				return record.Encode(cmd.OutOrStdout(), rec, f)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "json", "record format: json or yaml")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return a.withRunner(func(r *runner.Runner) error {
				if !output.ConfirmDestructive(cmd.ErrOrStderr(), cmd.InOrStdin(), fmt.Sprintf("Delete run %s?", id), a.flags.yes) {
					fmt.Fprintln(cmd.ErrOrStderr(), "aborted")
					return nil
				}
				if err := r.Delete(id); err != nil {
					if isNotFound(err) {
						return output.RunNotFoundError(id)
					}
					return err
				}
				return a.writeDone(cmd.OutOrStdout(), map[string]any{"deleted": id}, "Deleted run "+id)
			})
		},
	}
}

func newHistoryCleanCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove runs and event logs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return output.InvalidFlagError("older-than", olderThan.String(), "a positive duration such as 720h")
			}
			return a.withRunner(func(r *runner.Runner) error {
				q := fmt.Sprintf("Remove runs finished more than %s ago?", olderThan)
				if !output.ConfirmDestructive(cmd.ErrOrStderr(), cmd.InOrStdin(), q, a.flags.yes) {
					fmt.Fprintln(cmd.ErrOrStderr(), "aborted")
					return nil
				}
				n, err := r.Prune(olderThan)
				if err != nil {
					return err
				}
				a.logger.Info("pruned runs", "removed", n, "older_than", olderThan)
				return a.writeDone(cmd.OutOrStdout(), map[string]any{"removed": n}, fmt.Sprintf("Removed %d run record(s)", n))
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of removed runs")
	return cmd
}

// writeDone reports a completed action: data for structured formats, msg
// otherwise.
func (a *app) writeDone(w io.Writer, data any, msg string) error {
	if a.format.IsStructured() {
		return output.WriteStructured(w, data, a.format)
	}
	p := output.PaletteFor(w)
	_, err := fmt.Fprintf(w, "%s %s\n", p.Success.Render("✓"), msg)
	return err
}
