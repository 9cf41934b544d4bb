package sqlstore

import "errors"

// Sentinel kinds for SQL store errors.
var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrMissingDSN    = errors.New("missing store dsn")
)
