package lock

import "errors"

// Sentinel kinds for gate errors.
var (
	// ErrBusy means a rebuild holds the gate; the caller may retry later.
	ErrBusy = errors.New("rebuild in progress")
	// ErrLost means the exclusive hold expired before it was released.
	ErrLost = errors.New("exclusive hold lost")
)
