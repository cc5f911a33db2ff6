// Package ipc is the front-facing server's client for the session daemon.
// It dials the daemon's unix socket once, multiplexes operations over yamux
// streams, and maps wire-level error codes back to the daemon's sentinel
// errors. The server holds session names only; every mutation is a message
// send, never a shared reference.
package ipc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/shellgate/shellgate/internal/daemon"
	"github.com/shellgate/shellgate/internal/protocol"
)

// ErrDaemonUnavailable is returned when the IPC channel cannot be
// established or has broken. Callers report the operation as failed rather
// than hanging.
var ErrDaemonUnavailable = errors.New("session daemon unavailable")

// responseTimeout bounds how long a control operation waits for the daemon.
const responseTimeout = 10 * time.Second

// Client talks to the session daemon over its unix socket.
type Client struct {
	path string

	mu   sync.Mutex
	sess *yamux.Session
}

// Dial prepares a client for the given socket path. The connection is
// established lazily and re-established after the daemon restarts.
func Dial(path string) *Client {
	return &Client{path: path}
}

func (c *Client) session() (*yamux.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && !c.sess.IsClosed() {
		return c.sess, nil
	}
	conn, err := net.DialTimeout("unix", c.path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	sess, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	c.sess = sess
	return sess, nil
}

// Close tears down the IPC channel. The daemon and its sessions keep
// running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		err := c.sess.Close()
		c.sess = nil
		return err
	}
	return nil
}

func (c *Client) openStream() (net.Conn, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	stream, err := sess.Open()
	if err != nil {
		// The daemon may have restarted under us: retry once on a fresh
		// connection.
		c.mu.Lock()
		if c.sess == sess {
			c.sess.Close()
			c.sess = nil
		}
		c.mu.Unlock()
		sess, err = c.session()
		if err != nil {
			return nil, err
		}
		stream, err = sess.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
	}
	return stream, nil
}

func wireError(msg protocol.Message) error {
	switch msg.Code {
	case protocol.CodeSessionNotFound:
		return daemon.ErrSessionNotFound
	case protocol.CodeNameConflict:
		return daemon.ErrNameConflict
	default:
		return errors.New(msg.Error)
	}
}

// do performs one request/response exchange on a fresh stream.
func (c *Client) do(req protocol.Message) (protocol.Message, error) {
	stream, err := c.openStream()
	if err != nil {
		return protocol.Message{}, err
	}
	defer stream.Close()

	b, err := protocol.Encode(req)
	if err != nil {
		return protocol.Message{}, err
	}
	stream.SetDeadline(time.Now().Add(responseTimeout))
	if _, err := stream.Write(b); err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}

	respCh := make(chan protocol.Message, 1)
	dec := protocol.NewDecoder(func(m protocol.Message) {
		select {
		case respCh <- m:
		default:
		}
	})
	buf := make([]byte, 32*1024)
	for {
		select {
		case resp := <-respCh:
			if resp.Type == protocol.TypeError {
				return resp, wireError(resp)
			}
			return resp, nil
		default:
		}
		n, err := stream.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
		}
		if err != nil {
			select {
			case resp := <-respCh:
				if resp.Type == protocol.TypeError {
					return resp, wireError(resp)
				}
				return resp, nil
			default:
				return protocol.Message{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
			}
		}
	}
}

// Create asks the daemon to spawn a session. Empty name means generated.
func (c *Client) Create(name string, cols, rows int) (*protocol.SessionInfo, error) {
	resp, err := c.do(protocol.Message{Type: protocol.TypeCreate, Name: name, Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return resp.Session, nil
}

// List fetches summaries of all sessions.
func (c *Client) List() ([]protocol.SessionInfo, error) {
	resp, err := c.do(protocol.Message{Type: protocol.TypeList})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Rename renames a session.
func (c *Client) Rename(name, newName string) error {
	_, err := c.do(protocol.Message{Type: protocol.TypeRename, Name: name, NewName: newName})
	return err
}

// Delete removes a session. Absent names succeed.
func (c *Client) Delete(name string) error {
	_, err := c.do(protocol.Message{Type: protocol.TypeDelete, Name: name})
	return err
}

// Input injects bytes into a session without an attachment.
func (c *Client) Input(name string, p []byte) error {
	_, err := c.do(protocol.Message{
		Type: protocol.TypeInput,
		Name: name,
		Data: base64.StdEncoding.EncodeToString(p),
	})
	return err
}

// Resize changes a session's geometry without an attachment.
func (c *Client) Resize(name string, cols, rows int) error {
	_, err := c.do(protocol.Message{Type: protocol.TypeResize, Name: name, Cols: cols, Rows: rows})
	return err
}
