package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shellgate/shellgate/internal/auth"
	"github.com/shellgate/shellgate/internal/config"
	"github.com/shellgate/shellgate/internal/database"
)

type contextKey string

const sessionContextKey contextKey = "authSession"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAuth validates the session cookie and, for mutating methods, the
// CSRF header. With SHELLGATE_AUTH_DISABLED the whole gate is bypassed.
func RequireAuth(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Cfg.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(auth.SessionCookie)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}

			sess, err := gate.Validate(cookie.Value, r.Header.Get(auth.CSRFHeader), r.Method)
			if err != nil {
				if errors.Is(err, auth.ErrCsrfMismatch) {
					writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF token mismatch"})
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the authenticated session for the request, or nil when
// auth is disabled.
func GetSession(r *http.Request) *database.AuthSession {
	sess, _ := r.Context().Value(sessionContextKey).(*database.AuthSession)
	return sess
}
