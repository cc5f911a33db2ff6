package ipc

import (
	"encoding/base64"
	"fmt"
	"net"
	"sync"

	"github.com/shellgate/shellgate/internal/protocol"
)

// Attachment is a live duplex binding to one daemon session. Output arrives
// on the Output channel (history replay first); Input and Resize go the
// other way on the same stream.
type Attachment struct {
	Info protocol.SessionInfo

	stream net.Conn

	writeMu sync.Mutex

	output chan []byte

	// closing is closed by Close so a blocked output send cannot outlive
	// the attachment when the consumer has stopped draining.
	closing   chan struct{}
	closeOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	exitCode *int
}

// Attach opens a long-lived stream bound to the named session. The returned
// attachment must be closed by the caller.
func (c *Client) Attach(name string) (*Attachment, error) {
	stream, err := c.openStream()
	if err != nil {
		return nil, err
	}

	b, err := protocol.Encode(protocol.Message{Type: protocol.TypeAttach, Name: name})
	if err != nil {
		stream.Close()
		return nil, err
	}
	if _, err := stream.Write(b); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}

	a := &Attachment{
		stream:  stream,
		output:  make(chan []byte, 256),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	// The first message acks or rejects the attach; read it synchronously
	// so callers get SessionNotFound as an error, not a closed channel.
	first := make(chan protocol.Message, 1)
	firstOnce := sync.Once{}
	dec := protocol.NewDecoder(func(m protocol.Message) {
		delivered := false
		firstOnce.Do(func() {
			first <- m
			delivered = true
		})
		if !delivered {
			a.handleMessage(m)
		}
	})

	buf := make([]byte, 32*1024)
	for {
		select {
		case msg := <-first:
			if msg.Type == protocol.TypeError {
				stream.Close()
				return nil, wireError(msg)
			}
			if msg.Session != nil {
				a.Info = *msg.Session
			}
			go a.readLoop(dec, buf)
			return a, nil
		default:
		}
		n, err := stream.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
		}
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
	}
}

func (a *Attachment) readLoop(dec *protocol.Decoder, buf []byte) {
	defer a.finish()
	for {
		n, err := a.stream.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (a *Attachment) handleMessage(m protocol.Message) {
	switch m.Type {
	case protocol.TypeOutput:
		data, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			return
		}
		select {
		case a.output <- data:
		case <-a.closing:
		}
	case protocol.TypeExit:
		a.exitCode = m.ExitCode
		a.finish()
	}
}

func (a *Attachment) finish() {
	a.doneOnce.Do(func() {
		close(a.done)
		close(a.output)
	})
}

// Output returns the channel of terminal output chunks. It is closed when
// the session exits or the attachment breaks.
func (a *Attachment) Output() <-chan []byte {
	return a.output
}

// Done is closed when the attachment ends.
func (a *Attachment) Done() <-chan struct{} {
	return a.done
}

// ExitCode returns the session's exit code if it exited during this
// attachment, else nil.
func (a *Attachment) ExitCode() *int {
	return a.exitCode
}

func (a *Attachment) send(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err = a.stream.Write(b)
	return err
}

// Input forwards terminal bytes to the session. Per-client ordering is
// preserved: sends are serialized on one yamux stream.
func (a *Attachment) Input(p []byte) error {
	return a.send(protocol.Message{
		Type: protocol.TypeInput,
		Data: base64.StdEncoding.EncodeToString(p),
	})
}

// Resize changes the session's terminal geometry.
func (a *Attachment) Resize(cols, rows int) error {
	return a.send(protocol.Message{Type: protocol.TypeResize, Cols: cols, Rows: rows})
}

// Close detaches from the session. The session itself keeps running. The
// output channel is closed by the read loop once the stream unwinds; only
// that goroutine ever closes it.
func (a *Attachment) Close() error {
	a.closeOnce.Do(func() { close(a.closing) })
	return a.stream.Close()
}
