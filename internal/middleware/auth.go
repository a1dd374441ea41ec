// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"piwebcam/internal/auth"
)

// ContextKey is a private type for request-context keys.
type ContextKey string

// UserContextKey stores the authenticated user's claims.
const UserContextKey ContextKey = "user"

// Auth enforces JWT bearer authentication when the authenticator is
// enabled. With auth disabled every request passes through untouched.
func Auth(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			claims, err := authenticator.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					unauthorized(w, "token has expired")
				} else {
					unauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling
// back to a "token" query parameter for clients that cannot set headers
// (MJPEG <img> tags, WebSocket browsers).
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}
