package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/booksapi/release-pipeline/internal/runtime"
)

func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the pipeline it defines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(io.Discard, flags.logLevel)
			if err != nil {
				return err
			}
			p, err := runtime.New(cmd.Context(), runtime.WithConfigFile(flags.configPath), runtime.WithLogger(logger))
			if err != nil {
				return err
			}
			defer p.Shutdown(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p.Spec())
		},
	}
}
