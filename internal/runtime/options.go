package runtime

import (
	"fmt"
	"log/slog"

	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/config"
)

// Option is a functional option for configuring a Platform.
type Option func(*Platform) error

// WithConfigFile loads configuration from path and reloads the pipeline
// definition whenever the file changes.
func WithConfigFile(path string) Option {
	return func(p *Platform) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		p.cfg = cfg
		p.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(p *Platform) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		p.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Platform) error {
		p.logger = logger
		return nil
	}
}

// WithApprovalNotifier is called whenever a manual approval opens.
func WithApprovalNotifier(fn func(approval.Request)) Option {
	return func(p *Platform) error {
		p.notify = fn
		return nil
	}
}
