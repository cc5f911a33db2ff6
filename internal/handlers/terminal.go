package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/shellgate/shellgate/internal/daemon"
	"github.com/shellgate/shellgate/internal/ipc"
	"github.com/shellgate/shellgate/internal/peer"
)

// terminalRateLimit is the maximum number of input messages allowed per
// second per connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst allows short bursts of rapid input, e.g. pastes,
// before rate limiting kicks in.
const terminalRateBurst = 200

// maxInputMessageSize bounds a single input frame.
const maxInputMessageSize = 64 * 1024

const (
	maxResizeCols = 1000
	maxResizeRows = 500
)

// Transport selector states. Exactly one is current per connection; output
// goes to whichever that is.
const (
	transportPrimary int32 = iota
	transportPeer
)

type termControlMsg struct {
	Type      string          `json:"type"`
	Cols      uint16          `json:"cols,omitempty"`
	Rows      uint16          `json:"rows,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// tokenBucket is a simple token bucket rate limiter for terminal input.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// TerminalWS attaches a websocket client to a daemon session. Binary frames
// carry terminal bytes both ways; JSON text frames carry resize and peer
// transport signaling. When a peer data channel opens, output moves to it;
// when it fails or closes, output silently moves back here.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()

	att, err := Daemon.Attach(name)
	if err != nil {
		switch err {
		case daemon.ErrSessionNotFound:
			clientConn.Close(4004, "Session not found")
		case ipc.ErrDaemonUnavailable:
			clientConn.Close(4502, "Session daemon unavailable")
		default:
			clientConn.Close(4500, "Attach failed")
		}
		return
	}
	defer att.Close()

	clientConn.SetReadLimit(1024 * 1024)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Current transport for output. Input is accepted from either path.
	var transport atomic.Int32

	sendControl := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return clientConn.Write(relayCtx, websocket.MessageText, data)
	}

	peerConn := peer.New(
		func(sig peer.Signal) error { return sendControl(sig) },
		func(p []byte) {
			if err := att.Input(p); err != nil {
				relayCancel()
			}
		},
		func(active bool) {
			if active {
				transport.Store(transportPeer)
				log.Printf("Terminal transport switched to peer: session=%s", name)
			} else {
				transport.Store(transportPrimary)
				log.Printf("Terminal transport back to primary: session=%s", name)
			}
		},
	)
	defer peerConn.Close()

	// Session output -> current transport.
	go func() {
		defer relayCancel()
		for {
			select {
			case p, ok := <-att.Output():
				if !ok {
					return
				}
				if transport.Load() == transportPeer {
					if peerConn.Write(p) == nil {
						continue
					}
					// Selector already flipped back; fall through.
				}
				if err := clientConn.Write(relayCtx, websocket.MessageBinary, p); err != nil {
					return
				}
			case <-relayCtx.Done():
				return
			}
		}
	}()

	// Session exit -> tell the client and stop.
	go func() {
		select {
		case <-att.Done():
			if code := att.ExitCode(); code != nil {
				sendControl(map[string]interface{}{"type": "exit", "exit_code": *code})
			}
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	// Client -> session stdin plus control traffic.
	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}

		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxInputMessageSize {
				log.Printf("Terminal input message too large: session=%s size=%d", name, len(data))
				continue
			}
			if err := att.Input(data); err != nil {
				break
			}
			continue
		}

		var msg termControlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "resize":
			if msg.Cols == 0 || msg.Rows == 0 {
				continue
			}
			cols, rows := msg.Cols, msg.Rows
			if cols > maxResizeCols {
				cols = maxResizeCols
			}
			if rows > maxResizeRows {
				rows = maxResizeRows
			}
			if err := att.Resize(int(cols), int(rows)); err != nil {
				log.Printf("Terminal resize failed: session=%s err=%v", name, err)
			}
		case peer.SignalOffer, peer.SignalCandidate:
			sig := peer.Signal{Type: msg.Type, SDP: msg.SDP}
			if len(msg.Candidate) > 0 {
				if err := json.Unmarshal(msg.Candidate, &sig.Candidate); err != nil {
					continue
				}
			}
			// Signaling failures never disturb the primary transport.
			if err := peerConn.HandleSignal(sig); err != nil {
				log.Printf("Peer signaling failed: session=%s err=%v", name, err)
			}
		}
	}

	clientConn.Close(websocket.StatusNormalClosure, "")
}
