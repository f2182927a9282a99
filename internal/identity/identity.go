// Package identity resolves the calling user from a bearer credential.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// TokenQueryParam carries the credential on websocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "token"

type contextKey int

const (
	userIDKey contextKey = iota
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// QueryToken returns the token passed as a query parameter.
func QueryToken(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// Middleware rejects requests without a valid bearer token and stores the
// verified user id in the request context.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(BearerToken(r))
			if err != nil {
				logger.Debug("rejected bearer token",
					"error", err,
					"path", r.URL.Path,
					"remote_ip", IPFromRequest(r),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="wey"`)
				w.WriteHeader(http.StatusUnauthorized)
				msg := `{"error":"invalid credentials"}`
				if errors.Is(err, ErrExpiredToken) {
					msg = `{"error":"token expired"}`
				}
				_, _ = w.Write([]byte(msg))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
