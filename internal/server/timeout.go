package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds the request context. Handlers that block (a
// verdict wait, a store read) observe the deadline through ctx.Done(). A
// handler that gives up on the deadline without writing a response gets a
// 503 carrying the request id, and the access log line is tagged with the
// timeout that fired.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutResponseWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if tw.wrote || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			AddLogField(r.Context(), "timeout", timeout.String())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "request timed out",
				"request_id": GetRequestID(r.Context()),
			})
		})
	}
}

// timeoutResponseWriter records whether the handler started a response.
type timeoutResponseWriter struct {
	http.ResponseWriter
	wrote bool
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.wrote = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.wrote = true
	return tw.ResponseWriter.Write(b)
}
