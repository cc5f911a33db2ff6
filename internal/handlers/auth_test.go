package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shellgate/shellgate/internal/auth"
	"github.com/shellgate/shellgate/internal/config"
	"github.com/shellgate/shellgate/internal/database"
)

func setupGate(t *testing.T) {
	t.Helper()
	if err := database.InitInMemory(); err != nil {
		t.Fatalf("database init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	g, err := auth.New(auth.Config{
		RPID:      "localhost",
		RPOrigins: []string{"http://localhost:4020"},
	})
	if err != nil {
		t.Fatalf("gate init: %v", err)
	}
	Gate = g

	config.Cfg.TrustedProtoHeaders = []string{"X-Forwarded-Proto"}
	config.Cfg.TrustedTunnelHeaders = []string{"CF-Connecting-IP"}
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

// A plaintext local request with a trusted tunnel header must get a Secure
// cookie; the identical request without the header must not. Getting this
// wrong breaks cookie delivery behind TLS-terminating tunnels.
func TestLogoutCookieSecureBehindTunnel(t *testing.T) {
	setupGate(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("CF-Connecting-IP", "198.51.100.7")
	rec := httptest.NewRecorder()
	Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if c := sessionCookie(t, rec.Result()); !c.Secure {
		t.Error("cookie must be Secure when a trusted tunnel header is present")
	}
}

func TestLogoutCookiePlainWithoutTunnel(t *testing.T) {
	setupGate(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if c := sessionCookie(t, rec.Result()); c.Secure {
		t.Error("cookie must not be Secure on a plain local connection")
	}
}

func TestLogoutCookieSecureBehindForwardedProto(t *testing.T) {
	setupGate(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	Logout(rec, req)

	if c := sessionCookie(t, rec.Result()); !c.Secure {
		t.Error("cookie must be Secure behind a trusted https-forwarding proxy")
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	setupGate(t)

	sess, err := Gate.CreateSession("cred-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: sess.Token})
	rec := httptest.NewRecorder()
	Logout(rec, req)

	if _, err := Gate.Validate(sess.Token, sess.CSRFToken, http.MethodGet); err == nil {
		t.Error("session should be gone after logout")
	}
	if c := sessionCookie(t, rec.Result()); c.MaxAge >= 0 {
		t.Error("logout must expire the cookie")
	}
}

func TestPasswordLoginDisabled(t *testing.T) {
	setupGate(t)
	config.Cfg.PasswordLogin = false

	req := httptest.NewRequest(http.MethodPost, "/api/auth/password/login", nil)
	rec := httptest.NewRecorder()
	PasswordLogin(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when password login disabled, got %d", rec.Code)
	}
}
