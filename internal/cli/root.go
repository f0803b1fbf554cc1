// Package cli is accord's command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/config"
	"github.com/Dicklesworthstone/accord/internal/logging"
	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/runner"
)

// Build information, set with -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type globalFlags struct {
	configPath string
	format     string
	logLevel   string
	yes        bool
}

// app is the state shared by every command once flags are parsed.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
	format output.Format
}

// NewRootCmd returns the accord command tree.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{cfg: config.Default(), logger: slog.Default()}
	cmd := &cobra.Command{
		Use:   "accord",
		Short: "Negotiate a shared plan from everyone's constraints",
		Long: `accord structures the constraints of a group into decision questions,
asks a proposal oracle for plans, and iterates until the group converges,
accepts by majority, forks into compatible subgroups, or diverges.

Examples:
  accord run dinner.yaml              # Run a scenario and print the report
  accord run dinner.yaml --tui        # Follow the rounds live
  accord history list                 # Stored runs, newest first
  accord serve --addr :7400           # HTTP API with live events`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default ~/.config/accord/config.toml)")
	pf.StringVarP(&a.flags.format, "format", "f", "", "output format: text, json, yaml or markdown")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVarP(&a.flags.yes, "yes", "y", false, "answer yes to confirmation prompts")

	cmd.AddCommand(
		newRunCmd(a),
		newStructureCmd(a),
		newClassifyCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return cmd, a
}

func (a *app) setup(cmd *cobra.Command) error {
	f, err := output.ParseFormat(a.flags.format)
	if err != nil {
		return output.InvalidFlagError("format", a.flags.format, "one of text, json, yaml or markdown")
	}
	a.format = f

	cfg, err := config.LoadOrDefault(a.flags.configPath)
	if err != nil {
		path := a.flags.configPath
		if path == "" {
			path = config.DefaultPath()
		}
		return output.ConfigLoadError(path, err)
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.flags.logLevel != "" {
		if _, err := logging.ParseLevel(a.flags.logLevel); err != nil {
			return output.InvalidFlagError("log-level", a.flags.logLevel, "one of debug, info, warn or error")
		}
		level = a.flags.logLevel
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *app) openRunner() (*runner.Runner, error) {
	r, err := runner.New(a.cfg, runner.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open run storage: %w", err)
	}
	return r, nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd, a := newRootCmd()
	return execute(ctx, cmd, a, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, a *app, stdout, stderr io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	w := stderr
	if a.format.IsStructured() {
		w = stdout
	}
	if werr := output.WriteError(w, err, a.format); werr != nil {
		fmt.Fprintln(stderr, err)
	}
	var cliErr *output.CLIError
	if errors.As(err, &cliErr) && cliErr.Code == "INVALID_FLAG" {
		return 2
	}
	return 1
}
