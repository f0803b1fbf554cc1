package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/serve"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr          string
		maxConcurrent int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live run events",
		Long: `Starts the HTTP API. Runs are started with POST /api/v1/runs and their
rounds stream over the websocket at /ws. Bearer tokens from [serve.tokens]
in the config grant viewer, operator or admin access; with no tokens
configured every request is trusted.

Examples:
  accord serve
  accord serve --addr 0.0.0.0:7400 --max-concurrent 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Serve
			if addr != "" {
				sc.Addr = addr
			}
			if cmd.Flags().Changed("max-concurrent") {
				if maxConcurrent < 1 {
					return output.InvalidFlagError("max-concurrent", cmd.Flag("max-concurrent").Value.String(), "at least 1")
				}
				sc.MaxConcurrent = maxConcurrent
			}

			r, err := a.openRunner()
			if err != nil {
				return err
			}
			defer r.Close()

			srv, err := serve.New(serve.Config{
				Runner:         r,
				Addr:           sc.Addr,
				MaxConcurrent:  sc.MaxConcurrent,
				EventRetention: sc.EventRetention,
				Tokens:         sc.Tokens,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:7400)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "runs allowed at once")
	return cmd
}
