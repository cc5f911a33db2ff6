// Package peer establishes an optional client-to-host WebRTC data channel
// for terminal traffic. Signaling rides the primary websocket; the data
// channel, once open, carries raw terminal bytes in both directions.
package peer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrUnavailable reports that no peer data channel is currently open.
// Callers recover by writing to the primary transport instead.
var ErrUnavailable = errors.New("peer transport unavailable")

// Signal is one signaling message relayed over the primary transport.
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

const (
	SignalOffer     = "rtc_offer"
	SignalAnswer    = "rtc_answer"
	SignalCandidate = "rtc_candidate"
)

// Conn is the responder half of a peer transport for a single client
// connection. The browser is always the offerer and opens the data channel.
type Conn struct {
	sendSignal func(Signal) error
	onData     func([]byte)
	onState    func(active bool)

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel io.ReadWriteCloser
	closed  bool
}

// New prepares a responder. sendSignal relays answers and candidates back
// to the client, onData receives terminal input arriving over the data
// channel, onState fires when the channel becomes usable or stops being so.
func New(sendSignal func(Signal) error, onData func([]byte), onState func(active bool)) *Conn {
	return &Conn{
		sendSignal: sendSignal,
		onData:     onData,
		onState:    onState,
	}
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	// Detach gives stream access to the channel instead of the message
	// callback API. Loopback candidates matter for same-host clients.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{})
}

// HandleSignal processes one inbound signaling message. Failures are
// returned for logging only; the caller keeps the primary transport active
// regardless.
func (c *Conn) HandleSignal(sig Signal) error {
	switch sig.Type {
	case SignalOffer:
		return c.handleOffer(sig.SDP)
	case SignalCandidate:
		if sig.Candidate == nil {
			return errors.New("candidate signal without candidate")
		}
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc == nil {
			return errors.New("candidate before offer")
		}
		return pc.AddICECandidate(*sig.Candidate)
	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

func (c *Conn) handleOffer(sdp string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrUnavailable
	}
	old := c.pc
	c.pc = nil
	c.mu.Unlock()
	if old != nil {
		// Renegotiation: flip back to the primary transport and drop
		// the old connection before answering the new offer.
		c.deactivate()
		old.Close()
	}

	pc, err := newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				log.Printf("Peer channel detach failed: %v", err)
				return
			}
			c.adopt(raw)
		})
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		if err := c.sendSignal(Signal{Type: SignalCandidate, Candidate: &init}); err != nil {
			log.Printf("Peer candidate relay failed: %v", err)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
			c.deactivate()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pc.Close()
		return ErrUnavailable
	}
	c.pc = pc
	c.mu.Unlock()

	return c.sendSignal(Signal{Type: SignalAnswer, SDP: pc.LocalDescription().SDP})
}

// adopt takes ownership of a detached data channel and starts pumping
// inbound bytes to onData.
func (c *Conn) adopt(raw io.ReadWriteCloser) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		raw.Close()
		return
	}
	c.channel = raw
	c.mu.Unlock()

	c.onState(true)

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := raw.Read(buf)
			if n > 0 {
				p := make([]byte, n)
				copy(p, buf[:n])
				c.onData(p)
			}
			if err != nil {
				c.deactivate()
				return
			}
		}
	}()
}

// deactivate flips the connection back to inactive exactly once per
// adopted channel.
func (c *Conn) deactivate() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
		c.onState(false)
	}
}

// Write sends terminal output over the data channel.
func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return ErrUnavailable
	}
	if _, err := ch.Write(p); err != nil {
		c.deactivate()
		return err
	}
	return nil
}

// Active reports whether the data channel is open.
func (c *Conn) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel != nil
}

// Close tears down the peer connection without touching the session.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	ch := c.channel
	pc := c.pc
	c.channel = nil
	c.pc = nil
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if pc != nil {
		pc.Close()
	}
}
