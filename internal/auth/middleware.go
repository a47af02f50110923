package auth

import (
	"context"
	"net/http"
	"strings"

	"delivery-backend/internal/security"
)

type contextKey string

const usernameContextKey contextKey = "auth.username"

// Middleware verifies the bearer token and stores its subject in the request
// context. Role checks happen in the handlers, since roles live in the user
// record rather than the token.
func Middleware(tokens *security.TokenIssuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		subject, err := tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UsernameFromContext returns the authenticated username stored by
// Middleware.
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameContextKey).(string)
	return username, ok && username != ""
}
