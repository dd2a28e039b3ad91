// ABOUTME: HTTP middleware for JWT authentication on queue endpoints
// ABOUTME: Accepts "Bearer <jwt>" or a bare token in the Authorization header

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// extractToken extracts a token from the Authorization header. The original
// mesh protocol sends the bare token; "Bearer " is also accepted.
// Returns the token and an error message (empty if successful).
func extractToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	token := strings.TrimSpace(authHeader)
	if strings.EqualFold(token, "Bearer") {
		return "", "empty token"
	}
	if scheme, rest, ok := strings.Cut(token, " "); ok {
		if !strings.EqualFold(scheme, "Bearer") {
			return "", "invalid authorization header format"
		}
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPMiddleware rejects requests without a valid token and attaches the
// caller Identity to the request context.
func HTTPMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Warn("auth failure", "reason", errMsg, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeAuthError(w, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("auth failure", "reason", "invalid_token", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
				writeAuthError(w, "invalid token")
				return
			}

			id := &Identity{Subject: subject, Transport: "http"}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// NoAuthHTTPMiddleware attaches an anonymous Identity so handlers behave the
// same with auth disabled.
func NoAuthHTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := &Identity{Subject: Anonymous, Transport: "http"}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
