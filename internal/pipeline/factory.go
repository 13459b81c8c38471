package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/pkg/safehttp"
)

// ActionBuilder constructs the implementation of one configured action.
type ActionBuilder func(cfg config.PipelineActionConfig) (ports.Action, error)

// Builders maps an action type to its builder. The webhook type is always
// available.
type Builders map[string]ActionBuilder

// NewExecutorFromConfig creates a pipeline executor from app configuration.
// Unknown action types and malformed settings are reported as
// *domain.ConfigError.
func NewExecutorFromConfig(cfg config.PipelineConfig, builders Builders, observers []ports.StatusObserver, logger *slog.Logger) (*Executor, error) {
	stages := make([]StageConfig, 0, len(cfg.Stages))

	for _, stageCfg := range cfg.Stages {
		stage := StageConfig{Name: stageCfg.Name}
		for _, actionCfg := range stageCfg.Actions {
			action, err := buildAction(actionCfg, builders)
			if err != nil {
				return nil, &domain.ConfigError{Stage: stageCfg.Name, Action: actionCfg.Name, Reason: err.Error()}
			}
			stage.Actions = append(stage.Actions, ActionConfig{
				Spec:   actionCfg.Spec(),
				Action: action,
			})
		}
		stages = append(stages, stage)
	}

	return NewExecutor(ExecutorConfig{
		Name:      cfg.Name,
		Stages:    stages,
		Observers: observers,
		Logger:    logger,
	})
}

func buildAction(cfg config.PipelineActionConfig, builders Builders) (ports.Action, error) {
	if b, ok := builders[cfg.Type]; ok {
		return b(cfg)
	}
	if cfg.Type == "webhook" {
		return newWebhookFromConfig(cfg)
	}
	return nil, fmt.Errorf("unknown action type %q", cfg.Type)
}

func newWebhookFromConfig(cfg config.PipelineActionConfig) (ports.Action, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook action requires a url")
	}

	// Parse timeout
	timeout := 30 * time.Second // Default
	if cfg.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("invalid retries %d", cfg.Retries)
	}

	wc := WebhookActionConfig{
		Name:    cfg.Name,
		URL:     cfg.URL,
		Timeout: timeout,
		Retries: cfg.Retries,
		Headers: cfg.Headers,
	}
	if cfg.BlockPrivateNetworks {
		wc.Client = &http.Client{Timeout: timeout, Transport: safehttp.NewTransport()}
	}
	return NewWebhookAction(wc), nil
}
