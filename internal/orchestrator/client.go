package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Client reports verdicts to a remote status endpoint served by Handler.
type Client struct {
	url    string
	client *http.Client
}

var _ ports.VerdictReporter = (*Client)(nil)

// NewClient creates a reporter posting to statusURL. A nil httpClient uses
// one with a 10s timeout.
func NewClient(statusURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: statusURL, client: httpClient}
}

// ReportVerdict posts the report. A 409 means the event already has a
// verdict and is returned as ErrVerdictAlreadyReported.
func (c *Client) ReportVerdict(ctx context.Context, report domain.VerdictReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal verdict report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("report verdict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrVerdictAlreadyReported, report.Event())
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, report.Event())
	default:
		return fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}
