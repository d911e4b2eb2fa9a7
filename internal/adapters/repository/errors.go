package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	// ErrNotFound indicates no assessment exists with the requested ID.
	ErrNotFound = errors.New("assessment not found")

	// ErrInvalidRecord indicates the assessment is missing required fields.
	ErrInvalidRecord = errors.New("invalid assessment record")
)
