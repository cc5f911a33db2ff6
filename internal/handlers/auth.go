package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shellgate/shellgate/internal/auth"
	"github.com/shellgate/shellgate/internal/config"
	"github.com/shellgate/shellgate/internal/database"
	"github.com/shellgate/shellgate/internal/middleware"
)

// secureCookie applies the logical-HTTPS determination, not raw socket
// state. Behind a TLS-terminating proxy or tunnel the local socket is
// plaintext but the cookie must still be Secure.
func secureCookie(r *http.Request) bool {
	return auth.IsSecureConnection(r, config.Cfg.TrustedProtoHeaders, config.Cfg.TrustedTunnelHeaders)
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *database.AuthSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookie(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(Gate.SessionTTL().Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookie(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// RegisterBegin starts a passkey registration ceremony. The caller must
// present an unconsumed setup token.
func RegisterBegin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "Setup token required")
		return
	}

	record, err := Gate.ResolveSetupToken(body.Token)
	if err != nil {
		writeError(w, http.StatusForbidden, "Invalid or expired setup token")
		return
	}

	options, err := Gate.BeginRegistration(record.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to begin registration")
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// RegisterFinish verifies the attestation response and stores the new
// credential. A fresh authenticated session is issued immediately.
func RegisterFinish(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "Passkey"
	}

	cred, err := Gate.FinishRegistration(r, label)
	if err != nil {
		writeError(w, http.StatusForbidden, "Registration failed: "+err.Error())
		return
	}

	sess, err := Gate.CreateSession(cred.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"credential_id": cred.ID,
		"label":         cred.Label,
		"csrf_token":    sess.CSRFToken,
	})
}

func LoginBegin(w http.ResponseWriter, r *http.Request) {
	options, err := Gate.BeginLogin()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to begin login")
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func LoginFinish(w http.ResponseWriter, r *http.Request) {
	sess, err := Gate.FinishLogin(r)
	if err != nil {
		if errors.Is(err, auth.ErrReplayOrClone) {
			writeError(w, http.StatusForbidden, "Credential replay detected")
			return
		}
		writeError(w, http.StatusUnauthorized, "Login failed")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": sess.CSRFToken})
}

// PasswordLogin is the optional fallback when no authenticator is at hand.
// Disabled unless SHELLGATE_PASSWORD_LOGIN is set and a password exists.
func PasswordLogin(w http.ResponseWriter, r *http.Request) {
	if !config.Cfg.PasswordLogin {
		writeError(w, http.StatusNotFound, "Password login disabled")
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Password required")
		return
	}

	if !Gate.CheckPassword(body.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	sess, err := Gate.CreateSession("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": sess.CSRFToken})
}

// SetPassword sets or replaces the fallback password. Requires an
// authenticated session.
func SetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password of at least 8 characters required")
		return
	}

	if err := Gate.SetPassword(body.Password); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err == nil {
		Gate.Logout(cookie.Value)
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func Me(w http.ResponseWriter, r *http.Request) {
	if config.Cfg.AuthDisabled {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true, "auth_disabled": true})
		return
	}

	sess := middleware.GetSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"credential_id": sess.CredentialID,
		"csrf_token":    sess.CSRFToken,
		"expires_at":    sess.ExpiresAt,
	})
}
