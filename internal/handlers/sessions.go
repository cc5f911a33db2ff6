package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createSessionRequest struct {
	Name string `json:"name"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

// CreateSession spawns a new daemon session. An empty name lets the daemon
// pick one.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Cols <= 0 {
		req.Cols = 80
	}
	if req.Rows <= 0 {
		req.Rows = 24
	}

	info, err := Daemon.Create(req.Name, req.Cols, req.Rows)
	if err != nil {
		daemonError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ListSessions returns every session the daemon knows about, dead ones
// included until they are deleted.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := Daemon.List()
	if err != nil {
		daemonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func RenameSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req renameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "New session name required")
		return
	}

	if err := Daemon.Rename(name, req.Name); err != nil {
		daemonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func DeleteSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := Daemon.Delete(name); err != nil {
		daemonError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
