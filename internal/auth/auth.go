// Package auth is the session security gate. It owns credential, setup-token
// and auth-session state, and decides for every inbound request whether it is
// authenticated, whether it may mutate state, and whether response cookies
// must be marked secure.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shellgate/shellgate/internal/database"
)

const (
	SessionCookie = "shellgate_session"
	CSRFHeader    = "X-CSRF-Token"
	BcryptCost    = 12

	passwordSettingKey = "password_hash"
)

// DefaultSessionTTL applies when the configured TTL cannot be parsed.
const DefaultSessionTTL = 7 * 24 * time.Hour

// mutatingMethods lists HTTP methods that require a CSRF token in addition
// to the session cookie.
var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession mints a new auth session for the given credential with a
// random opaque token and a random CSRF token.
func (g *Gate) CreateSession(credentialID string) (*database.AuthSession, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("mint session token: %w", err)
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("mint CSRF token: %w", err)
	}

	s := &database.AuthSession{
		Token:        token,
		CredentialID: credentialID,
		CSRFToken:    csrf,
		ExpiresAt:    time.Now().Add(g.ttl),
		LastActivity: time.Now(),
	}
	if err := database.SaveAuthSession(s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// Validate resolves the session token and enforces the CSRF invariant for
// state-mutating methods. Expired sessions are removed lazily.
func (g *Gate) Validate(sessionToken, csrfToken, method string) (*database.AuthSession, error) {
	if sessionToken == "" {
		return nil, ErrUnauthenticated
	}
	s, err := database.GetAuthSession(sessionToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if time.Now().After(s.ExpiresAt) {
		database.DeleteAuthSession(s.Token)
		return nil, ErrUnauthenticated
	}
	if mutatingMethods[method] {
		if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(s.CSRFToken)) != 1 {
			return nil, ErrCsrfMismatch
		}
	}
	database.TouchAuthSession(s.Token)
	return s, nil
}

// Logout removes one auth session. Unknown tokens are not an error.
func (g *Gate) Logout(sessionToken string) {
	if sessionToken != "" {
		database.DeleteAuthSession(sessionToken)
	}
}

// RevokeAll removes every auth session for the account.
func (g *Gate) RevokeAll() error {
	return database.DeleteAllAuthSessions()
}

// Cleanup removes expired sessions and stale ceremony challenges. Called
// periodically from main.
func (g *Gate) Cleanup() {
	database.DeleteExpiredAuthSessions()
	g.expireChallenges()
}

// SessionTTL reports the configured session lifetime.
func (g *Gate) SessionTTL() time.Duration {
	return g.ttl
}

// Password fallback. A single bcrypt hash is kept in the settings table; the
// fallback is only reachable when enabled in config.

func (g *Gate) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return err
	}
	return database.SetSetting(passwordSettingKey, string(hash))
}

func (g *Gate) CheckPassword(password string) bool {
	hash, err := database.GetSetting(passwordSettingKey)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (g *Gate) HasPassword() bool {
	_, err := database.GetSetting(passwordSettingKey)
	return err == nil
}
