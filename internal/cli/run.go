package cli

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		autoApprove bool
		reviewer    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit with its outcome",
		Long: `Serve the platform, run the pipeline once and print the run result as
JSON. The exit status is 0 when every stage succeeded and 1 otherwise.
Without --auto-approve the Production review waits for a decision posted to
/approvals/{id}/approve or /approvals/{id}/reject.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := startPlatform(ctx, flags, logger, autoApprove, reviewer)
			if err != nil {
				return err
			}
			if err := s.waitReady(ctx); err != nil {
				s.stop()
				return err
			}

			res, runErr := s.platform.Run(ctx)
			if err := s.stop(); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
			}

			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			if runErr != nil {
				logger.Error("run failed", slog.String("error", runErr.Error()))
				return NewExitError(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "grant every manual approval")
	cmd.Flags().StringVar(&reviewer, "reviewer", "cli", "reviewer recorded for automatic approvals")
	return cmd
}
