// Package exception provides the custom error types and classification helpers used by
// the dispatch engine. It standardizes errors raised while orchestrating jobs so that
// callers can decide between leaving a job for the next poll cycle, recording a per-item
// failure, or surfacing a fatal creation error.
package exception

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
)

// Sentinel errors covering the engine's failure taxonomy. Classifier functions below
// match them through errors.Is across wrapped chains.
var (
	// ErrEmptyScope indicates a job was requested for a scope with no items to process.
	// Fatal at creation time; the job is never started.
	ErrEmptyScope = errors.New("scope contains no items to check")

	// ErrRemoteJobNotFound indicates the remote system has no memory of a job.
	// Treated as implicit cancellation, not as a failure.
	ErrRemoteJobNotFound = errors.New("remote job not found")

	// ErrCommitConflict indicates a read-modify-write lost a version race against a
	// concurrent writer. The next cycle's re-read picks up the true state.
	ErrCommitConflict = errors.New("record version conflict")

	// ErrTransport indicates a network-level failure talking to a remote system.
	ErrTransport = errors.New("transport failure")

	// ErrHandler indicates a result handler failed while applying side effects.
	ErrHandler = errors.New("result handler failure")
)

// DispatchError is the custom error type used across the engine. It carries the module
// where the error occurred, a message, the wrapped original error, and a flag telling
// whether the operation is worth retrying on a later cycle.
type DispatchError struct {
	// Module indicates the component where the error occurred (e.g. "poller", "checker", "store").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether a later cycle may succeed.
	isRetryable bool
	// StackTrace is the stack trace captured at construction (for debugging).
	StackTrace string
}

// NewDispatchError creates a new DispatchError instance.
func NewDispatchError(module, message string, originalErr error, isRetryable bool) *DispatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &DispatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  string(buf[:n]),
	}
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *DispatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether a later cycle may succeed.
func (e *DispatchError) IsRetryable() bool {
	return e.isRetryable
}

// NewEmptyScopeError creates the fatal error returned when job creation finds no items.
func NewEmptyScopeError(module, scopeID string) *DispatchError {
	return NewDispatchError(module, fmt.Sprintf("scope '%s' has no items", scopeID), ErrEmptyScope, false)
}

// NewTransportError wraps a network-level failure. Transport errors are retryable by
// the next poll cycle; the batch engine records them per item instead.
func NewTransportError(module, message string, originalErr error) *DispatchError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrTransport, originalErr)
	} else {
		errToWrap = ErrTransport
	}
	return NewDispatchError(module, message, errToWrap, true)
}

// NewCommitConflictError wraps an optimistic-concurrency loss on a record write.
// Not retried inside the current cycle; the next re-read observes the winning write.
func NewCommitConflictError(module, message string, originalErr error) *DispatchError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrCommitConflict, originalErr)
	} else {
		errToWrap = ErrCommitConflict
	}
	return NewDispatchError(module, message, errToWrap, false)
}

// NewHandlerError wraps a result handler failure. Logged and swallowed by the
// dispatcher; never blocks terminal job cleanup.
func NewHandlerError(module, kind string, originalErr error) *DispatchError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrHandler, originalErr)
	} else {
		errToWrap = ErrHandler
	}
	return NewDispatchError(module, fmt.Sprintf("handler for kind '%s' failed", kind), errToWrap, false)
}

// IsDispatchError determines if the given error is of type DispatchError.
func IsDispatchError(err error) bool {
	if err == nil {
		return false
	}
	var de *DispatchError
	return errors.As(err, &de)
}

// IsEmptyScope reports whether err indicates an empty scope at creation.
func IsEmptyScope(err error) bool {
	return err != nil && errors.Is(err, ErrEmptyScope)
}

// IsRemoteNotFound reports whether err indicates the remote forgot the job.
func IsRemoteNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrRemoteJobNotFound)
}

// IsCommitConflict reports whether err indicates a lost version race.
func IsCommitConflict(err error) bool {
	return err != nil && errors.Is(err, ErrCommitConflict)
}

// IsTransportError reports whether err indicates a network-level failure.
func IsTransportError(err error) bool {
	return err != nil && errors.Is(err, ErrTransport)
}

// IsHandlerError reports whether err indicates a result handler failure.
func IsHandlerError(err error) bool {
	return err != nil && errors.Is(err, ErrHandler)
}

// IsTemporary determines if an error is temporary (network timeout, refused connection).
// For DispatchError the IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// ExtractErrorMessage extracts the error message string from an error.
// For DispatchError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
