// Package apperr defines the failure kinds shared by the browser pool, the
// retry engine and their callers. Callers branch on transient network
// failures versus programmer/state violations with errors.Is / errors.As.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// ErrNetwork matches every *NetworkError via errors.Is.
var ErrNetwork = errors.New("network error")

// NetworkError reports a resource launch or connectivity failure.
type NetworkError struct {
	Op  string
	Err error
}

// NewNetworkError wraps cause as a NetworkError for the given operation.
func NewNetworkError(op string, cause error) *NetworkError {
	return &NetworkError{Op: op, Err: cause}
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StateError reports an operation invoked in a state that does not allow it.
// These are programmer errors and are never worth retrying.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return e.Reason
}

// Pool state violations. Each value is distinct so callers can tell them apart.
var (
	ErrPoolNotInitialized = &StateError{Reason: "pool not initialized"}
	ErrPoolClosed         = &StateError{Reason: "pool already closed"}
	ErrPoolInitializing   = &StateError{Reason: "pool initialization in progress"}
	ErrNotCheckedOut      = &StateError{Reason: "resource is not checked out from this pool"}
	ErrPoolExhausted      = &StateError{Reason: "pool wait queue is full"}
	ErrPoolDepleted       = &StateError{Reason: "pool has no live resources left"}
)

// IsNetwork reports whether err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsState reports whether err is or wraps a StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// HTTPStatusError reports a document fetched with a failing HTTP status.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Retryable reports whether a later attempt could plausibly succeed: server
// errors and 429 are, other client errors are not.
func (e *HTTPStatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 429
}

// Retryable is a retry.Options.ShouldRetry predicate. It refuses to retry
// state violations, context cancellation and permanent HTTP failures.
func Retryable(err error) bool {
	if err == nil || IsState(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}
