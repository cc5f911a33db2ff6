// Package protocol implements the newline-delimited JSON wire format shared
// by the daemon IPC channel and the browser-facing terminal stream.
//
// Every message is a single JSON object followed by exactly one line feed.
// The decoder is chunk-boundary agnostic: a message split across reads is
// reassembled, and a line that fails to parse is dropped without disturbing
// the rest of the stream.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminators.
const (
	TypeInput  = "input"
	TypeOutput = "output"
	TypeResize = "resize"
	TypeCreate = "create"
	TypeAttach = "attach"
	TypeList   = "list"
	TypeRename = "rename"
	TypeDelete = "delete"
	TypeOK     = "ok"
	TypeError  = "error"
	TypeExit   = "exit"
)

// Error codes carried on TypeError messages.
const (
	CodeSessionNotFound = "session_not_found"
	CodeNameConflict    = "name_conflict"
	CodeSpawnFailed     = "spawn_failed"
	CodeBadRequest      = "bad_request"
)

// SessionInfo is a session summary as reported by the daemon's list operation.
type SessionInfo struct {
	Name              string    `json:"name"`
	Alive             bool      `json:"alive"`
	HasChildProcesses bool      `json:"hasChildProcesses"`
	Cols              int       `json:"cols"`
	Rows              int       `json:"rows"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActivity      time.Time `json:"lastActivity"`
}

// Message is the unit of the wire format. Type-specific fields are omitted
// from the serialization when unused.
type Message struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	NewName string `json:"newName,omitempty"`

	// Data carries terminal bytes base64-encoded for input/output messages.
	Data string `json:"data,omitempty"`

	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// Error and Code are set on TypeError messages.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	Sessions []SessionInfo `json:"sessions,omitempty"`
	Session  *SessionInfo  `json:"session,omitempty"`

	ExitCode *int `json:"exitCode,omitempty"`
}

// Encode serializes msg as canonical JSON terminated by exactly one line
// feed. No other whitespace is introduced.
func Encode(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(b, '\n'), nil
}

// Decoder splits a byte or text stream into line-delimited JSON messages and
// invokes the callback for each one that parses. It retains an unterminated
// trailing fragment across calls.
type Decoder struct {
	onMessage func(Message)
	frag      []byte
}

// NewDecoder returns a Decoder that calls onMessage for every complete,
// well-formed message in the stream.
func NewDecoder(onMessage func(Message)) *Decoder {
	return &Decoder{onMessage: onMessage}
}

// Write feeds a chunk of bytes into the decoder. It always consumes the full
// chunk and never fails: malformed lines are discarded, empty lines skipped.
func (d *Decoder) Write(p []byte) (int, error) {
	d.frag = append(d.frag, p...)
	for {
		i := bytes.IndexByte(d.frag, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := d.frag[:i]
		d.frag = d.frag[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Protocol noise (partial writes, stray logging) is dropped
			// without tearing down the stream.
			continue
		}
		d.onMessage(msg)
	}
}

// WriteString feeds a text chunk into the decoder. Identical content produces
// identical results whether fed as bytes or text.
func (d *Decoder) WriteString(s string) {
	d.Write([]byte(s))
}
