package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// WebhookAction delegates an action to an external HTTP endpoint.
//
// The endpoint receives the ActionInput as JSON and must answer 2xx with an
// ActionOutput body. Any other outcome fails the action once retries are
// exhausted.
type WebhookAction struct {
	name    string
	url     string
	timeout time.Duration
	retries int
	headers map[string]string
	client  *http.Client
}

// WebhookActionConfig configures a webhook action.
type WebhookActionConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	Retries int
	Headers map[string]string
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// NewWebhookAction creates a new webhook action.
func NewWebhookAction(cfg WebhookActionConfig) *WebhookAction {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &WebhookAction{
		name:    cfg.Name,
		url:     cfg.URL,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
	}
}

// Name returns the action identifier.
func (a *WebhookAction) Name() string {
	return a.name
}

// Run executes the webhook call.
func (a *WebhookAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	var lastErr error

	attempts := a.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := a.doRequest(ctx, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("webhook action %s failed after %d attempt(s): %w", a.name, attempts, lastErr)
}

func (a *WebhookAction) doRequest(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal action input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output ports.ActionOutput
	if len(bytes.TrimSpace(respBody)) == 0 {
		return &output, nil
	}
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal action output: %w", err)
	}

	return &output, nil
}

// Ensure WebhookAction implements the interface.
var _ ports.Action = (*WebhookAction)(nil)
