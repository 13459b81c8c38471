package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

func TestWebhookAction_Success(t *testing.T) {
	var received ports.ActionInput
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"variables":{"ARTIFACTS_PATH":"s3://b/k"}}`))
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionConfig{
		Name:    "build",
		URL:     server.URL,
		Timeout: time.Second,
		Headers: map[string]string{"Authorization": "Bearer t"},
	})

	out, err := action.Run(context.Background(), &ports.ActionInput{
		RunID: "r", Stage: "Build", Action: "Build", Env: map[string]string{"GIT_BRANCH": "main"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Variables["ARTIFACTS_PATH"] != "s3://b/k" {
		t.Errorf("variables = %v", out.Variables)
	}
	if received.Env["GIT_BRANCH"] != "main" || received.Stage != "Build" {
		t.Errorf("received = %+v", received)
	}
	if auth != "Bearer t" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookAction_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionConfig{Name: "n", URL: server.URL, Timeout: time.Second})
	out, err := action.Run(context.Background(), &ports.ActionInput{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out == nil || len(out.Variables) != 0 {
		t.Errorf("out = %+v", out)
	}
}

func TestWebhookAction_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionConfig{Name: "n", URL: server.URL, Timeout: time.Second, Retries: 1})
	if _, err := action.Run(context.Background(), &ports.ActionInput{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestWebhookAction_FailsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	action := NewWebhookAction(WebhookActionConfig{Name: "n", URL: server.URL, Timeout: time.Second, Retries: 2})
	if _, err := action.Run(context.Background(), &ports.ActionInput{}); err == nil {
		t.Fatal("Run() expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhookAction_NoRetryAfterCancel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	action := NewWebhookAction(WebhookActionConfig{Name: "n", URL: server.URL, Timeout: time.Second, Retries: 5})
	if _, err := action.Run(ctx, &ports.ActionInput{}); err == nil {
		t.Fatal("Run() expected error")
	}
	if calls.Load() > 1 {
		t.Errorf("calls = %d, want at most 1", calls.Load())
	}
}
