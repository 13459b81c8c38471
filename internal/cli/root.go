// Package cli is the command line front end of the release pipeline.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ExitError carries a process exit status out of a command without calling
// os.Exit, so commands stay testable.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError returns an ExitError with code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Books API release pipeline",
		Long: `Runs the Books API release pipeline against a local platform:
  Source -> Build -> Staging (deploy, test) -> Production (review, deploy)`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		newServeCommand(flags),
		newRunCommand(flags),
		newValidateCommand(flags),
	)
	return root
}

// Execute runs the root command with the process arguments and returns the
// exit status.
func Execute() int {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
