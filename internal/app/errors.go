package service

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidRequest indicates a malformed assessment request.
	ErrInvalidRequest = errors.New("invalid assessment request")

	// ErrUnknownModel indicates a requested model kind with no registered source.
	ErrUnknownModel = errors.New("unknown model")

	// ErrInsufficientVerdicts indicates that every requested model failed, so
	// there is nothing to fuse.
	ErrInsufficientVerdicts = errors.New("no verdicts available")

	// ErrNotStarted indicates the service has not been started.
	ErrNotStarted = errors.New("service not started")
)
