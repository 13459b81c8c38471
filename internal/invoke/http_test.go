package invoke

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

func TestHTTPInvoker(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"isbn":"smoke:1"}`))
	}))
	defer srv.Close()

	res, err := NewHTTP(nil).Invoke(context.Background(), &ports.Invocation{Target: srv.URL, Body: []byte(`{"isbn":"smoke:1"}`)})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.StatusCode != http.StatusCreated || !res.Success() {
		t.Errorf("status = %d", res.StatusCode)
	}
	if gotBody != `{"isbn":"smoke:1"}` || gotType != "application/json" {
		t.Errorf("request body = %q, content type = %q", gotBody, gotType)
	}
	if string(res.Body) != `{"isbn":"smoke:1"}` {
		t.Errorf("response body = %q", res.Body)
	}
}

func TestHTTPInvoker_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := NewHTTP(srv.Client()).Invoke(context.Background(), &ports.Invocation{Target: srv.URL})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Success() {
		t.Errorf("Success() = true for status %d", res.StatusCode)
	}
}

func TestHTTPInvoker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewHTTP(nil).Invoke(context.Background(), &ports.Invocation{Target: url}); err == nil {
		t.Error("Invoke() expected error for a closed server")
	}
}
