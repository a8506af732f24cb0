package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/sniper/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	var apiOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job executor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if apiOnly {
				cfg.Executor.Disabled = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return bootstrap.Serve(ctx, cfg, Version)
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "serve the API without running the executor")
	return cmd
}
