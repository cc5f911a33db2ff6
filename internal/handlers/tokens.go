package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shellgate/shellgate/internal/database"
)

// CreateSetupToken mints a one-time enrollment token and returns the sealed
// form the operator pastes into a new device.
func CreateSetupToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "Display name required")
		return
	}

	record, token, err := Gate.MintSetupToken(body.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create setup token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":           record.ID,
		"display_name": record.DisplayName,
		"token":        token,
		"created_at":   record.CreatedAt,
	})
}

func ListSetupTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := database.ListSetupTokens()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	out := make([]map[string]interface{}, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, map[string]interface{}{
			"id":           t.ID,
			"display_name": t.DisplayName,
			"consumed":     t.CredentialID != nil,
			"created_at":   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": out})
}

func DeleteSetupToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := database.DeleteSetupToken(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := database.GetCredentials()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	out := make([]map[string]interface{}, 0, len(creds))
	for _, c := range creds {
		out = append(out, map[string]interface{}{
			"id":           c.ID,
			"label":        c.Label,
			"created_at":   c.CreatedAt,
			"last_used_at": c.LastUsedAt,
			"user_agent":   c.UserAgent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": out})
}

// RevokeCredential removes a passkey. The last credential cannot be revoked
// unless password login remains available, to avoid locking the operator out.
func RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	count, err := database.CredentialCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if count <= 1 && !Gate.HasPassword() {
		writeError(w, http.StatusConflict, "Cannot revoke the last credential")
		return
	}

	if _, err := database.GetCredential(id); err != nil {
		writeError(w, http.StatusNotFound, "Credential not found")
		return
	}
	if err := database.DeleteCredential(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
