// Package invoke calls a specific service version directly, without going
// through the public gateway.
package invoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// maxResponseBytes caps how much of a candidate response is kept.
const maxResponseBytes = 1 << 20

// HTTPInvoker POSTs the invocation body to the target URL.
type HTTPInvoker struct {
	client *http.Client
}

var _ ports.Invoker = (*HTTPInvoker)(nil)

// NewHTTP creates an HTTP invoker. A nil client gets a 30s timeout and a
// traced transport.
func NewHTTP(client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPInvoker{client: client}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, inv *ports.Invocation) (*ports.InvocationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.Target, bytes.NewReader(inv.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", inv.Target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &ports.InvocationResult{StatusCode: resp.StatusCode, Body: body}, nil
}
