package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/record"
	"github.com/Dicklesworthstone/accord/internal/runner"
	"github.com/Dicklesworthstone/accord/internal/scenario"
)

// isInteractive returns true when both stdin and stdout are TTYs. Used to guard
// the live view, which would otherwise block automated runs (tests/CI).
func isInteractive() bool {
	return (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())) &&
		(isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))
}

func loadScenario(path string) (*scenario.Scenario, error) {
	s, err := scenario.Load(path)
	if err != nil {
		return nil, output.ScenarioLoadError(path, err)
	}
	return s, nil
}

// loadRecord maps a missing run to the CLI error users see.
func loadRecord(r *runner.Runner, id string) (record.Record, error) {
	if !r.HasStorage() {
		return record.Record{}, output.StorageDisabledError()
	}
	rec, err := r.Load(id)
	if errors.Is(err, runner.ErrNotFound) {
		return record.Record{}, output.RunNotFoundError(id)
	}
	return rec, err
}

func parseRoundArg(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, output.InvalidFlagError(name, value, "rounds are positive integers")
	}
	return n, nil
}

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func isNotFound(err error) bool {
	return errors.Is(err, runner.ErrNotFound)
}
