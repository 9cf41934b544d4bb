package rating

import "errors"

// Sentinel kinds for rating errors.
var (
	ErrInvalidInput  = errors.New("invalid rating input")
	ErrUnknownPolicy = errors.New("unknown k-factor policy")
)
