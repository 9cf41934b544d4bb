package rebuild

import "errors"

// Sentinel kinds for rebuild errors.
var (
	ErrCancelled     = errors.New("rebuild cancelled")
	ErrInvalidScope  = errors.New("invalid rebuild scope")
	ErrBadTransition = errors.New("invalid rebuild state transition")
	ErrInconsistent  = errors.New("rating state is inconsistent")
)
