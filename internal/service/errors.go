package service

import "errors"

// Sentinel errors returned by Supervisor queries.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates an unknown session identifier.
	ErrNotFound = errors.New("search session not found")

	// ErrNotReady indicates results were requested before the session completed.
	ErrNotReady = errors.New("search not completed")

	// ErrInvalidRequest indicates a submission that failed validation.
	ErrInvalidRequest = errors.New("invalid search request")
)
