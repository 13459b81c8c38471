package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var startRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the platform and its control plane",
		Long: `Serve the local platform: the environments under /envs, the
lifecycle status endpoint, the approval API and the control plane under /api.
Runs are started with POST /api/runs, or once at startup with --run.
The pipeline definition reloads when the configuration file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := startPlatform(ctx, flags, logger, false, "")
			if err != nil {
				return err
			}

			if startRun {
				if err := s.waitReady(ctx); err != nil {
					s.stop()
					return err
				}
				runID, err := s.platform.StartRun()
				if err != nil {
					s.stop()
					return err
				}
				logger.Info("run started", slog.String("run_id", runID))
			}

			<-ctx.Done()
			logger.Info("shutdown signal received, stopping platform")
			return s.stop()
		},
	}
	cmd.Flags().BoolVar(&startRun, "run", false, "start a pipeline run once the server is up")
	return cmd
}
