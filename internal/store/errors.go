package store

import "errors"

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the session identifier is unknown.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists indicates a session with the same identifier was already created.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrTerminal indicates the session is completed or failed and can no longer change.
	ErrTerminal = errors.New("session is in a terminal state")

	// ErrInvalidTransition indicates a status change that the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCorruptSnapshot indicates durable bytes that cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnsupportedVersion indicates a durable snapshot written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)
