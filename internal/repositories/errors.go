package repositories

import (
	"errors"
	"fmt"
)

// ErrNotPending marks an acknowledgement of a report that is no longer pending. It travels
// inside a conflict StoreError so callers can tell it apart from transaction contention.
var ErrNotPending = errors.New("repositories: report is not pending")

// StoreError is the RepositoryError used by backends that do not carry their own error type.
type StoreError struct {
	Op          string
	Message     string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing record.
func (e *StoreError) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *StoreError) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, message string) *StoreError {
	return &StoreError{Op: op, Message: message, notFound: true}
}

// NewConflictError reports a precondition or serialization conflict.
func NewConflictError(op, message string, err error) *StoreError {
	return &StoreError{Op: op, Message: message, Err: err, conflict: true}
}

// NewUnavailableError reports a backend that could not be reached.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, unavailable: true}
}

// NewStoreError wraps an unclassified backend failure.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// Classify returns the RepositoryError carried by err, if any.
func Classify(err error) (RepositoryError, bool) {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
