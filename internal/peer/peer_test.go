package peer

import (
	"io"
	"testing"
)

// fakeChannel is a stand-in data channel whose Read blocks until Close.
type fakeChannel struct {
	closed chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: make(chan struct{})}
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *fakeChannel) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeChannel) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func noopConn() *Conn {
	return New(
		func(Signal) error { return nil },
		func([]byte) {},
		func(bool) {},
	)
}

func TestCandidateBeforeOffer(t *testing.T) {
	c := noopConn()
	defer c.Close()

	err := c.HandleSignal(Signal{Type: SignalCandidate})
	if err == nil {
		t.Error("candidate without prior offer must fail")
	}
}

func TestUnknownSignalType(t *testing.T) {
	c := noopConn()
	defer c.Close()

	if err := c.HandleSignal(Signal{Type: "bogus"}); err == nil {
		t.Error("unknown signal type must fail")
	}
}

func TestWriteWithoutChannel(t *testing.T) {
	c := noopConn()
	defer c.Close()

	if err := c.Write([]byte("data")); err != ErrUnavailable {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if c.Active() {
		t.Error("connection must not report active without a channel")
	}
}

func TestRenegotiationFlipsInactive(t *testing.T) {
	states := make(chan bool, 8)
	c := New(
		func(Signal) error { return nil },
		func([]byte) {},
		func(active bool) { states <- active },
	)
	defer c.Close()

	pc, err := newPeerConnection()
	if err != nil {
		t.Fatalf("newPeerConnection: %v", err)
	}
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	c.adopt(newFakeChannel())

	if !c.Active() {
		t.Fatal("expected active after channel adoption")
	}
	select {
	case active := <-states:
		if !active {
			t.Fatal("expected active=true notification first")
		}
	default:
		t.Fatal("channel adoption must notify state change")
	}

	// A new offer replaces the old connection. The state callback must
	// fire before the answer attempt, not only after a failed write.
	if err := c.handleOffer("not a real sdp"); err == nil {
		t.Fatal("expected malformed offer to fail")
	}
	if c.Active() {
		t.Error("expected inactive after renegotiation dropped the old channel")
	}
	select {
	case active := <-states:
		if active {
			t.Error("expected active=false notification")
		}
	default:
		t.Error("renegotiation must notify state change")
	}
}

func TestClosedConnRejectsOffer(t *testing.T) {
	c := noopConn()
	c.Close()

	if err := c.HandleSignal(Signal{Type: SignalOffer, SDP: "v=0"}); err != ErrUnavailable {
		t.Errorf("expected ErrUnavailable after close, got %v", err)
	}
}
