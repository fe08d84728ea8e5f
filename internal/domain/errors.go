package domain

import "errors"

var (
	// ErrValidation marks a missing or malformed required field.
	ErrValidation = errors.New("validation failed")
	// ErrLookupFailed marks an unreachable or failing external lookup.
	ErrLookupFailed = errors.New("lookup failed")
	// ErrPersistenceConflict marks lock contention or a busy database.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned for a stage change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid stage transition")
)
