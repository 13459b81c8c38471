package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/booksapi/release-pipeline/internal/core/ports"
)

type subjectKey struct{}

// AuthMiddleware requires a valid bearer token and injects its subject into
// the request context. The "Bearer " prefix is optional.
func AuthMiddleware(verifier ports.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if token == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(token, "Bearer ")

			subject, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				AddError(r.Context(), err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			AddLogField(r.Context(), "subject", subject)
			ctx := context.WithValue(r.Context(), subjectKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject returns the authenticated subject, or "".
func GetSubject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
