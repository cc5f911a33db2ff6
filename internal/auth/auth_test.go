package auth

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shellgate/shellgate/internal/database"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	if err := database.InitInMemory(); err != nil {
		t.Fatalf("init database: %v", err)
	}
	g, err := New(Config{
		RPID:      "localhost",
		RPOrigins: []string{"http://localhost:4020"},
	})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g
}

func TestValidateUnknownToken(t *testing.T) {
	g := newTestGate(t)

	if _, err := g.Validate("no-such-token", "", http.MethodGet); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := g.Validate("", "", http.MethodGet); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated for empty token, got %v", err)
	}
}

func TestValidateCSRF(t *testing.T) {
	g := newTestGate(t)

	s, err := g.CreateSession("cred-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Reads need no CSRF token.
	if _, err := g.Validate(s.Token, "", http.MethodGet); err != nil {
		t.Errorf("GET without CSRF token: %v", err)
	}

	// Mutations require the exact stored token.
	if _, err := g.Validate(s.Token, "", http.MethodPost); err != ErrCsrfMismatch {
		t.Errorf("expected ErrCsrfMismatch, got %v", err)
	}
	if _, err := g.Validate(s.Token, "wrong", http.MethodDelete); err != ErrCsrfMismatch {
		t.Errorf("expected ErrCsrfMismatch, got %v", err)
	}
	if _, err := g.Validate(s.Token, s.CSRFToken, http.MethodPost); err != nil {
		t.Errorf("POST with matching CSRF token: %v", err)
	}
}

func TestValidateExpiredSession(t *testing.T) {
	g := newTestGate(t)

	s, err := g.CreateSession("cred-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	database.DB.Model(&database.AuthSession{}).
		Where("token = ?", s.Token).
		Update("expires_at", time.Now().Add(-time.Minute))

	if _, err := g.Validate(s.Token, s.CSRFToken, http.MethodGet); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated for expired session, got %v", err)
	}

	// Expired sessions are removed lazily.
	if _, err := database.GetAuthSession(s.Token); err == nil {
		t.Error("expected expired session to be deleted")
	}
}

func TestLogoutAndRevokeAll(t *testing.T) {
	g := newTestGate(t)

	s1, _ := g.CreateSession("cred-1")
	s2, _ := g.CreateSession("cred-1")

	g.Logout(s1.Token)
	if _, err := g.Validate(s1.Token, "", http.MethodGet); err != ErrUnauthenticated {
		t.Errorf("expected logged-out session rejected, got %v", err)
	}
	if _, err := g.Validate(s2.Token, "", http.MethodGet); err != nil {
		t.Errorf("other session should survive logout: %v", err)
	}

	if err := g.RevokeAll(); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := g.Validate(s2.Token, "", http.MethodGet); err != ErrUnauthenticated {
		t.Errorf("expected revoked session rejected, got %v", err)
	}
}

func TestSignCountMonotonicity(t *testing.T) {
	g := newTestGate(t)

	cred := &database.Credential{ID: "cred-ctr", PublicKey: []byte{1}, SignCount: 0}
	if err := database.SaveCredential(cred); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	// First use advances the counter.
	if err := g.VerifyCounter("cred-ctr", 5); err != nil {
		t.Fatalf("first use: %v", err)
	}

	// Equal counter is a replay.
	if err := g.VerifyCounter("cred-ctr", 5); err != ErrReplayOrClone {
		t.Errorf("expected ErrReplayOrClone for equal counter, got %v", err)
	}

	// Regressed counter indicates a clone.
	if err := g.VerifyCounter("cred-ctr", 3); err != ErrReplayOrClone {
		t.Errorf("expected ErrReplayOrClone for regressed counter, got %v", err)
	}

	// Advancing again is fine.
	if err := g.VerifyCounter("cred-ctr", 6); err != nil {
		t.Errorf("advanced counter rejected: %v", err)
	}

	stored, err := database.GetCredential("cred-ctr")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if stored.SignCount != 6 {
		t.Errorf("expected stored counter 6, got %d", stored.SignCount)
	}
}

func TestSignCountZeroAuthenticators(t *testing.T) {
	g := newTestGate(t)

	cred := &database.Credential{ID: "cred-zero", PublicKey: []byte{1}, SignCount: 0}
	database.SaveCredential(cred)

	// Counter-less authenticators report 0 on every use; that is not a clone.
	if err := g.VerifyCounter("cred-zero", 0); err != nil {
		t.Errorf("zero counter on zero stored should pass, got %v", err)
	}
	if err := g.VerifyCounter("cred-zero", 0); err != nil {
		t.Errorf("repeated zero counter should pass, got %v", err)
	}
}

func TestPasswordFallback(t *testing.T) {
	g := newTestGate(t)

	if g.HasPassword() {
		t.Error("expected no password initially")
	}
	if err := g.SetPassword("hunter2"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if !g.CheckPassword("hunter2") {
		t.Error("correct password rejected")
	}
	if g.CheckPassword("wrong") {
		t.Error("wrong password accepted")
	}
}

func TestSetupTokenRoundTrip(t *testing.T) {
	g := newTestGate(t)

	rec, token, err := g.MintSetupToken("Work laptop")
	if err != nil {
		t.Fatalf("mint setup token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty link token")
	}

	resolved, err := g.ResolveSetupToken(token)
	if err != nil {
		t.Fatalf("resolve setup token: %v", err)
	}
	if resolved.ID != rec.ID {
		t.Errorf("expected record %q, got %q", rec.ID, resolved.ID)
	}
	if resolved.DisplayName != "Work laptop" {
		t.Errorf("unexpected display name %q", resolved.DisplayName)
	}

	// A consumed (deleted) record no longer resolves.
	database.DeleteSetupToken(rec.ID)
	if _, err := g.ResolveSetupToken(token); err == nil {
		t.Error("expected consumed token to fail resolution")
	}

	// Garbage never resolves.
	if _, err := g.ResolveSetupToken("garbage"); err == nil {
		t.Error("expected forged token to fail resolution")
	}
}

func TestIsSecureConnection(t *testing.T) {
	protoHeaders := []string{"X-Forwarded-Proto"}
	tunnelHeaders := []string{"CF-Connecting-IP"}

	tests := []struct {
		name   string
		header map[string]string
		tls    bool
		want   bool
	}{
		{"plain local", nil, false, false},
		{"raw TLS", nil, true, true},
		{"forwarded https", map[string]string{"X-Forwarded-Proto": "https"}, false, true},
		{"forwarded http", map[string]string{"X-Forwarded-Proto": "http"}, false, false},
		{"forwarded list", map[string]string{"X-Forwarded-Proto": "https, http"}, false, true},
		{"tunnel header", map[string]string{"CF-Connecting-IP": "198.51.100.7"}, false, true},
		{"untrusted header", map[string]string{"X-Totally-Secure": "yes"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := IsSecureConnection(r, protoHeaders, tunnelHeaders); got != tt.want {
				t.Errorf("IsSecureConnection = %v, want %v", got, tt.want)
			}
		})
	}
}
