package daemon

import (
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/shellgate/shellgate/internal/protocol"
)

// Config controls session spawning.
type Config struct {
	// Command is the shell argv for new sessions. Empty means $SHELL,
	// falling back to /bin/bash.
	Command []string
	// ScrollbackSize caps each session's replay buffer.
	ScrollbackSize int
}

// Registry is the sole owner of all PTY-backed sessions on the host. All
// access goes through its methods; nothing else holds session references.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config) *Registry {
	if len(cfg.Command) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
		cfg.Command = []string{shell}
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

func generateName() string {
	return "term-" + uuid.New().String()[:8]
}

// Create spawns a new session. An empty name is generated. A name held by a
// live session fails with ErrNameConflict; a dead session holding the name
// is evicted so the name can be reused.
func (r *Registry) Create(name string, cols, rows int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = generateName()
		for r.sessions[name] != nil {
			name = generateName()
		}
	} else if existing, ok := r.sessions[name]; ok {
		if existing.Alive() {
			return nil, ErrNameConflict
		}
		delete(r.sessions, name)
	}

	s, err := startSession(name, r.cfg.Command, cols, rows, r.cfg.ScrollbackSize)
	if err != nil {
		// Spawn failures are reported to the caller, never fatal to the
		// daemon.
		log.Printf("spawn %v for session %q: %v", r.cfg.Command, name, err)
		return nil, err
	}
	r.sessions[name] = s
	log.Printf("session %q created (%dx%d)", name, s.Info().Cols, s.Info().Rows)
	return s, nil
}

// Get returns the named session or ErrSessionNotFound.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Rename atomically renames a session, preserving identity and running
// state. The target name must not be held by a live session.
func (r *Registry) Rename(name, newName string) error {
	if newName == "" {
		return ErrNameConflict
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[name]
	if !ok {
		return ErrSessionNotFound
	}
	if name == newName {
		return nil
	}
	if existing, ok := r.sessions[newName]; ok {
		if existing.Alive() {
			return ErrNameConflict
		}
		delete(r.sessions, newName)
	}
	delete(r.sessions, name)
	r.sessions[newName] = s
	s.setName(newName)
	log.Printf("session %q renamed to %q", name, newName)
	return nil
}

// Delete terminates the session's process group and removes the registry
// entry. Deleting an absent name is not an error.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	delete(r.sessions, name)
	r.mu.Unlock()

	if ok {
		s.Kill()
		log.Printf("session %q deleted", name)
	}
}

// List returns summaries of every registered session, dead ones included.
func (r *Registry) List() []protocol.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]protocol.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Shutdown kills every live session. Called when the daemon itself stops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Kill()
	}
}
