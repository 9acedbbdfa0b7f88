package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a transaction or alert does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when an alert cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid alert transition")

	// ErrSourceUnavailable marks a scoring source that failed or timed out.
	ErrSourceUnavailable = errors.New("scoring source unavailable")

	// ErrNoScores is returned when aggregation is invoked without scores.
	ErrNoScores = errors.New("at least one model score is required")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SourceError wraps a failure from one scoring source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// PersistenceError reports a failed store write. The decision that
// accompanies it is still valid and the call may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may be retried.
func (e *PersistenceError) Retryable() bool {
	return true
}

// IsRetryable reports whether err carries a retryable failure.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
