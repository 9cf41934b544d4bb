package service

import (
	"errors"
	"fmt"

	"github.com/okian/jasselo/internal/adapters/repository"
)

// Sentinel kinds returned by the service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrBackpressure = errors.New("live queue full")
	ErrUndated      = errors.New("session has no completed_at")
	// ErrSessionNotRated matches repository.ErrNotFound.
	ErrSessionNotRated = fmt.Errorf("session has no history: %w", repository.ErrNotFound)
)
