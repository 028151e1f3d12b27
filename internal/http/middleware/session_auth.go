package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const sessionIDKey contextKey = "checkoutSessionID"

// SessionCookie carries the signed session token for the server-rendered page.
const SessionCookie = "checkout_session"

// TokenParser verifies a session token and returns the session id inside it.
type TokenParser interface {
	Parse(token string) (string, error)
}

// SessionToken requires a valid session token from the Authorization header
// or the session cookie.
func SessionToken(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				http.Error(w, "session auth disabled", http.StatusUnauthorized)
				return
			}
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}
			sessionID, err := parser.Parse(token)
			if err != nil || sessionID == "" {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// TokenFromRequest returns the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// WithSessionID stores a verified session id on ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the verified session id if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
