package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// staticVerifier accepts a single token.
type staticVerifier struct {
	token   string
	subject string
}

func (v staticVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if token != v.token {
		return "", errors.New("invalid token")
	}
	return v.subject, nil
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID = %q, want a uuid", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDMiddleware_Forwarded(t *testing.T) {
	incoming := uuid.NewString()
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", incoming)
	RequestIDMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)
	if seen != incoming {
		t.Errorf("request id = %q, want forwarded %q", seen, incoming)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid\nInjected: 1")
	RequestIDMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid\nInjected: 1" {
		t.Error("malformed request id was kept")
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	cancelled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("Expected context to have deadline")
		}
		select {
		case <-r.Context().Done():
			cancelled = true
		case <-time.After(time.Second):
		}
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(10*time.Millisecond)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if !cancelled {
		t.Error("Expected context to be cancelled due to timeout")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 for a handler that gave up silently", rec.Code)
	}
}

func TestTimeoutMiddleware_HandlerResponseKept(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		http.Error(w, "verdict wait expired", http.StatusGatewayTimeout)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(10*time.Millisecond)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusGatewayTimeout || !strings.Contains(rec.Body.String(), "verdict wait expired") {
		t.Errorf("response = %d %q, want the handler's own", rec.Code, rec.Body.String())
	}
}

func TestTimeoutMiddleware_FastHandlerUntouched(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(time.Second)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestTimeoutMiddleware_ReportsRequestID(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(TimeoutMiddleware(10 * time.Millisecond)(handler)))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "request timed out" || body["request_id"] != rec.Header().Get("X-Request-ID") {
		t.Errorf("body = %v, request id header %q", body, rec.Header().Get("X-Request-ID"))
	}
	for _, want := range []string{"status=503", "timeout=10ms", "level=ERROR"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %q: %s", want, buf.String())
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	verifier := staticVerifier{token: "tok-1", subject: "success+1@simulator.amazonses.com"}

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{name: "bearer token", header: "Bearer tok-1", wantStatus: http.StatusOK, wantSubject: verifier.subject},
		{name: "raw token", header: "tok-1", wantStatus: http.StatusOK, wantSubject: verifier.subject},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = GetSubject(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("POST", "/books", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(verifier)(handler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "deployment_id", "d-1")
		AddLogField(r.Context(), "empty_field", "")
		AddError(r.Context(), errors.New("store unavailable"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/books", nil))

	output := buf.String()
	for _, want := range []string{"request completed", "/books", "status=500", "bytes=4", "deployment_id=d-1", "store unavailable", "level=ERROR"} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q: %s", want, output)
		}
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), errors.New("x"))
}

func TestServer_Healthz(t *testing.T) {
	s := New(0, time.Second, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("middleware stack not applied")
	}
}

func TestServer_RecoversPanics(t *testing.T) {
	s := New(0, 0, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	s.Router.Get("/panic", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServer_StartStops(t *testing.T) {
	s := New(0, 0, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
