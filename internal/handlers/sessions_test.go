package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shellgate/shellgate/internal/daemon"
	"github.com/shellgate/shellgate/internal/ipc"
)

// newTestRouter runs a real daemon behind the handlers so each REST call
// exercises the whole IPC path.
func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	reg := daemon.NewRegistry(daemon.Config{
		Command:        []string{"/bin/cat"},
		ScrollbackSize: 4096,
	})
	sock := filepath.Join(t.TempDir(), "shellgated.sock")
	srv, err := daemon.Listen(sock, reg)
	if err != nil {
		t.Fatalf("daemon listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		reg.Shutdown()
	})

	Daemon = ipc.Dial(sock)
	t.Cleanup(func() { Daemon.Close() })

	r := chi.NewRouter()
	r.Post("/api/sessions", CreateSession)
	r.Get("/api/sessions", ListSessions)
	r.Put("/api/sessions/{name}", RenameSession)
	r.Delete("/api/sessions/{name}", DeleteSession)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycleOverREST(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/sessions", `{"name":"dev","cols":120,"rows":40}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	var created struct {
		Name string `json:"name"`
		Cols int    `json:"cols"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("create response: %v", err)
	}
	if created.Name != "dev" || created.Cols != 120 {
		t.Errorf("unexpected create response %+v", created)
	}

	if rec := doJSON(t, r, http.MethodPost, "/api/sessions", `{"name":"dev"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listed struct {
		Sessions []struct {
			Name  string `json:"name"`
			Alive bool   `json:"alive"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("list response: %v", err)
	}
	if len(listed.Sessions) != 1 || !listed.Sessions[0].Alive {
		t.Errorf("unexpected list %+v", listed)
	}

	if rec := doJSON(t, r, http.MethodPut, "/api/sessions/dev", `{"name":"prod"}`); rec.Code != http.StatusOK {
		t.Errorf("rename: status %d body %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, r, http.MethodPut, "/api/sessions/dev", `{"name":"other"}`); rec.Code != http.StatusNotFound {
		t.Errorf("rename gone session: expected 404, got %d", rec.Code)
	}

	if rec := doJSON(t, r, http.MethodDelete, "/api/sessions/prod", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}

	// Name is reusable after deletion.
	if rec := doJSON(t, r, http.MethodPost, "/api/sessions", `{"name":"prod"}`); rec.Code != http.StatusCreated {
		t.Errorf("recreate after delete: status %d body %s", rec.Code, rec.Body)
	}
}

func TestSessionEndpointsBadInput(t *testing.T) {
	r := newTestRouter(t)

	if rec := doJSON(t, r, http.MethodPost, "/api/sessions", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad create body: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPut, "/api/sessions/x", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("rename without name: expected 400, got %d", rec.Code)
	}
}

func TestSessionEndpointsDaemonDown(t *testing.T) {
	Daemon = ipc.Dial(filepath.Join(t.TempDir(), "missing.sock"))
	t.Cleanup(func() { Daemon.Close() })

	r := chi.NewRouter()
	r.Get("/api/sessions", ListSessions)

	rec := doJSON(t, r, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 with daemon down, got %d", rec.Code)
	}
}
