package daemon

import (
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/shellgate/shellgate/internal/protocol"
)

// killGracePeriod is how long a terminated session's process group gets
// between SIGHUP and SIGKILL.
const killGracePeriod = 3 * time.Second

// attachQueueDepth bounds buffering between the PTY pump and one attached
// sink. A consumer that falls further behind loses the oldest chunks.
const attachQueueDepth = 256

// attachment decouples a sink from the output pump: the pump enqueues, a
// dedicated goroutine drains. A slow or stalled sink can never block the
// pump or its peer attachments.
type attachment struct {
	queue   chan []byte
	dropped bool
}

// Session is a host shell process wrapped in a pseudo-terminal. It exists
// independently of any attached client: detaching never terminates the
// process, and a session whose process exits stays listed (alive=false)
// until explicitly deleted.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	createdAt time.Time
	sb        *Scrollback

	mu           sync.Mutex
	name         string
	cols, rows   int
	lastActivity time.Time
	alive        bool
	exitCode     *int

	attachMu   sync.Mutex
	attached   map[uint64]*attachment
	nextAttach uint64

	done chan struct{}
}

// startSession spawns argv on a fresh PTY with the given initial geometry.
func startSession(name string, argv []string, cols, rows int, scrollbackSize int) (*Session, error) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cmd:          cmd,
		ptmx:         ptmx,
		name:         name,
		cols:         cols,
		rows:         rows,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		alive:        true,
		sb:           NewScrollback(scrollbackSize),
		attached:     make(map[uint64]*attachment),
		done:         make(chan struct{}),
	}

	go s.pumpOutput()
	return s, nil
}

// pumpOutput relays PTY output into the scrollback buffer and to every
// attached client. It runs for the lifetime of the shell process.
func (s *Session) pumpOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.sb.Write(data)
			s.touch()
			s.fanout(data)
		}
		if err != nil {
			break
		}
	}

	err := s.cmd.Wait()
	code := 0
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	s.mu.Lock()
	s.alive = false
	s.exitCode = &code
	s.mu.Unlock()
	s.ptmx.Close()
	close(s.done)
	log.Printf("session %q exited (code=%d, wait err=%v)", s.Name(), code, err)
}

// fanout enqueues one output chunk for every attachment. Enqueueing never
// blocks: a full queue sheds its oldest chunk to make room. Sinks run on
// their own goroutines, so no stall here can freeze the PTY pump.
func (s *Session) fanout(data []byte) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	for _, a := range s.attached {
		select {
		case a.queue <- data:
			continue
		default:
		}
		select {
		case <-a.queue:
		default:
		}
		select {
		case a.queue <- data:
		default:
		}
		if !a.dropped {
			a.dropped = true
			log.Printf("WARNING: session %q attachment fell behind, shedding output", s.Name())
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Name returns the session's current name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Alive reports whether the shell process is still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Done is closed when the shell process exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitCode returns the process exit code, or nil while still running.
func (s *Session) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Attach registers an output sink and returns the scrollback history plus a
// detach function. Multiple concurrent attachments are peers: all receive
// the same output stream. The sink runs on its own goroutine behind a
// bounded queue; if it cannot keep up, the oldest queued chunks are shed.
func (s *Session) Attach(sink func([]byte)) (history []byte, detach func()) {
	a := &attachment{queue: make(chan []byte, attachQueueDepth)}
	go func() {
		for p := range a.queue {
			sink(p)
		}
	}()

	s.attachMu.Lock()
	id := s.nextAttach
	s.nextAttach++
	s.attached[id] = a
	s.attachMu.Unlock()

	var once sync.Once
	return s.sb.Snapshot(), func() {
		once.Do(func() {
			s.attachMu.Lock()
			delete(s.attached, id)
			s.attachMu.Unlock()
			// fanout only sees registered attachments, so after the
			// delete above nobody else sends on the queue.
			close(a.queue)
		})
	}
}

// Input writes bytes to the PTY. Input to a dead session is a logged no-op.
func (s *Session) Input(p []byte) {
	if !s.Alive() {
		log.Printf("WARNING: input to dead session %q dropped (%d bytes)", s.Name(), len(p))
		return
	}
	s.touch()
	if _, err := s.ptmx.Write(p); err != nil {
		log.Printf("WARNING: session %q input write: %v", s.Name(), err)
	}
}

// Resize changes the PTY geometry. Resizing a dead session is a logged no-op.
func (s *Session) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	if !s.Alive() {
		log.Printf("WARNING: resize of dead session %q ignored", s.Name())
		return
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		log.Printf("WARNING: session %q resize: %v", s.Name(), err)
		return
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Kill terminates the session's process group: SIGHUP first, SIGKILL after a
// grace period if the process is still around.
func (s *Session) Kill() {
	if !s.Alive() {
		return
	}
	pid := s.cmd.Process.Pid
	// pty.Start runs the child in its own session, so the process group ID
	// equals the child PID.
	unix.Kill(-pid, unix.SIGHUP)
	go func() {
		select {
		case <-s.done:
		case <-time.After(killGracePeriod):
			unix.Kill(-pid, unix.SIGKILL)
		}
	}()
}

// Info summarizes the session for list responses. Alive and the
// child-process heuristic are computed at call time.
func (s *Session) Info() protocol.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := protocol.SessionInfo{
		Name:         s.name,
		Alive:        s.alive,
		Cols:         s.cols,
		Rows:         s.rows,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.alive {
		info.HasChildProcesses = hasChildProcesses(s.cmd.Process.Pid)
	}
	return info
}
