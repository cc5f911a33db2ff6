package daemon

import "errors"

var (
	// ErrSessionNotFound is returned for operations naming a session the
	// registry does not hold.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNameConflict is returned when a create or rename targets a name
	// already held by a live session.
	ErrNameConflict = errors.New("session name already in use")
)
