package daemon

import "sync"

// defaultScrollbackSize is the default maximum scrollback buffer size (1 MB).
const defaultScrollbackSize = 1024 * 1024

// Scrollback is a thread-safe byte buffer holding recent terminal output for
// replay when a client attaches. When the buffer exceeds maxLen, older data
// is trimmed from the front.
type Scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewScrollback creates a scrollback buffer with the given maximum size.
// If maxLen <= 0, defaultScrollbackSize is used.
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &Scrollback{maxLen: maxLen}
}

// Write appends data, trimming from the front if the total exceeds maxLen.
func (s *Scrollback) Write(p []byte) {
	s.mu.Lock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current buffer contents.
func (s *Scrollback) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the current buffer length.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
