package auth

import "errors"

var (
	// ErrUnauthenticated is returned when no matching auth session exists
	// or the presented session has expired.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrCsrfMismatch is returned when a state-mutating request does not
	// carry the CSRF token bound to its auth session.
	ErrCsrfMismatch = errors.New("CSRF token mismatch")

	// ErrReplayOrClone is returned when a login assertion presents a
	// signature counter that did not advance past the stored value.
	ErrReplayOrClone = errors.New("signature counter did not advance")
)
