package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shellgate/shellgate/internal/auth"
	"github.com/shellgate/shellgate/internal/daemon"
	"github.com/shellgate/shellgate/internal/ipc"
)

// Daemon and Gate are set from main.go during init.
var (
	Daemon *ipc.Client
	Gate   *auth.Gate
)

// ErrBodyTooLarge is returned by readRawBody when a request body exceeds
// the configured cap. The message is part of the API contract.
var ErrBodyTooLarge = errors.New("Body too large")

// MaxUploadSize caps raw upload bodies.
const MaxUploadSize = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// daemonError maps IPC failures to HTTP statuses.
func daemonError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, daemon.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, daemon.ErrNameConflict):
		writeError(w, http.StatusConflict, "Session name already in use")
	case errors.Is(err, ipc.ErrDaemonUnavailable):
		writeError(w, http.StatusBadGateway, "Session daemon unavailable")
	default:
		writeError(w, http.StatusBadGateway, "Session daemon error: "+err.Error())
	}
}

// readRawBody reads r up to limit bytes and fails fast once the limit is
// crossed, without buffering the rest of the payload.
func readRawBody(r io.Reader, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, ErrBodyTooLarge
	}
	return buf, nil
}
