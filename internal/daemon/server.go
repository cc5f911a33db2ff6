// Package daemon owns all PTY-backed terminal sessions for the host. It runs
// as an independent long-lived process so that sessions survive restarts of
// the front-facing server, which talks to it over a unix socket.
//
// Each accepted socket connection is wrapped in a yamux session. Every yamux
// stream carries newline-delimited JSON: control operations use a short
// request/response stream, attachments hold their stream open and exchange
// input/output/resize messages until either side closes. One goroutine per
// stream means one stalled session cannot starve the others.
package daemon

import (
	"encoding/base64"
	"errors"
	"log"
	"net"
	"os"
	"sync"

	"github.com/hashicorp/yamux"

	"github.com/shellgate/shellgate/internal/protocol"
)

// Server accepts IPC connections from the front-facing process.
type Server struct {
	reg *Registry
	ln  net.Listener
}

// Listen binds the daemon's unix socket, replacing any stale socket file
// from a previous run.
func Listen(socketPath string, reg *Registry) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	// The socket is the sole mutation path into the registry; keep it
	// owner-only.
	os.Chmod(socketPath, 0600)
	return &Server{reg: reg, ln: ln}, nil
}

// Serve runs the accept loop until Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops the listener. Sessions keep running.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	session, err := yamux.Server(conn, nil)
	if err != nil {
		log.Printf("ipc: yamux server: %v", err)
		conn.Close()
		return
	}
	defer session.Close()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

// streamWriter serializes NDJSON writes to one stream: an attachment's
// output pump and its control responses share it.
type streamWriter struct {
	mu sync.Mutex
	w  net.Conn
}

func (sw *streamWriter) send(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_, err = sw.w.Write(b)
	return err
}

func errorMessage(err error) protocol.Message {
	msg := protocol.Message{Type: protocol.TypeError, Error: err.Error()}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		msg.Code = protocol.CodeSessionNotFound
	case errors.Is(err, ErrNameConflict):
		msg.Code = protocol.CodeNameConflict
	default:
		msg.Code = protocol.CodeSpawnFailed
	}
	return msg
}

func (s *Server) handleStream(stream net.Conn) {
	defer stream.Close()

	msgs := make(chan protocol.Message, 64)
	// The handler may return while the client is still sending; the done
	// channel lets the reader bail out instead of blocking on a full msgs
	// channel forever.
	done := make(chan struct{})
	defer close(done)
	dec := protocol.NewDecoder(func(m protocol.Message) {
		select {
		case msgs <- m:
		case <-done:
		}
	})
	go func() {
		defer close(msgs)
		buf := make([]byte, 32*1024)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				dec.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	req, ok := <-msgs
	if !ok {
		return
	}

	out := &streamWriter{w: stream}

	switch req.Type {
	case protocol.TypeCreate:
		sess, err := s.reg.Create(req.Name, req.Cols, req.Rows)
		if err != nil {
			out.send(errorMessage(err))
			return
		}
		info := sess.Info()
		out.send(protocol.Message{Type: protocol.TypeOK, Session: &info})

	case protocol.TypeList:
		out.send(protocol.Message{Type: protocol.TypeList, Sessions: s.reg.List()})

	case protocol.TypeRename:
		if err := s.reg.Rename(req.Name, req.NewName); err != nil {
			out.send(errorMessage(err))
			return
		}
		out.send(protocol.Message{Type: protocol.TypeOK})

	case protocol.TypeDelete:
		s.reg.Delete(req.Name)
		out.send(protocol.Message{Type: protocol.TypeOK})

	case protocol.TypeInput:
		sess, err := s.reg.Get(req.Name)
		if err != nil {
			out.send(errorMessage(err))
			return
		}
		if data, err := base64.StdEncoding.DecodeString(req.Data); err == nil {
			sess.Input(data)
		}
		out.send(protocol.Message{Type: protocol.TypeOK})

	case protocol.TypeResize:
		sess, err := s.reg.Get(req.Name)
		if err != nil {
			out.send(errorMessage(err))
			return
		}
		sess.Resize(req.Cols, req.Rows)
		out.send(protocol.Message{Type: protocol.TypeOK})

	case protocol.TypeAttach:
		s.handleAttach(out, req, msgs)

	default:
		out.send(protocol.Message{
			Type:  protocol.TypeError,
			Error: "unknown message type " + req.Type,
			Code:  protocol.CodeBadRequest,
		})
	}
}

// handleAttach binds the stream to a session until the client goes away or
// the shell exits. Output flows as base64 output messages; the client sends
// input and resize messages on the same stream.
func (s *Server) handleAttach(out *streamWriter, req protocol.Message, msgs <-chan protocol.Message) {
	sess, err := s.reg.Get(req.Name)
	if err != nil {
		out.send(errorMessage(err))
		return
	}

	info := sess.Info()
	if err := out.send(protocol.Message{Type: protocol.TypeOK, Session: &info}); err != nil {
		return
	}

	send := func(p []byte) {
		out.send(protocol.Message{
			Type: protocol.TypeOutput,
			Name: req.Name,
			Data: base64.StdEncoding.EncodeToString(p),
		})
	}

	history, detach := sess.Attach(send)
	defer detach()
	if len(history) > 0 {
		send(history)
	}

	for {
		select {
		case <-sess.Done():
			msg := protocol.Message{Type: protocol.TypeExit, Name: req.Name}
			if code := sess.ExitCode(); code != nil {
				msg.ExitCode = code
			}
			out.send(msg)
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			switch m.Type {
			case protocol.TypeInput:
				if data, err := base64.StdEncoding.DecodeString(m.Data); err == nil {
					sess.Input(data)
				}
			case protocol.TypeResize:
				sess.Resize(m.Cols, m.Rows)
			}
		}
	}
}
