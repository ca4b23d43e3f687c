/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package invoke

import (
	"errors"
	"fmt"
	"time"
)

// TransientError marks an error as retryable (throttling, transient
// network or service failures). Errors not marked transient propagate
// from the Invoker immediately without retry.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err to mark it as retryable. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether any error in the chain is marked transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FatalError marks an error as permanently non-processable (malformed
// input, validation or permission failures). The dispatcher routes such
// jobs straight to the dead-letter destination.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err to mark it as non-retryable at the job level. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether any error in the chain is marked fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetriesExhaustedError is returned by Invoker.Do when all retry attempts
// failed with retryable errors. It is distinct from the original cause so
// that callers can tell "the work failed" from "the work kept being throttled".
type RetriesExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts in %s: %s", e.Attempts, e.Elapsed, e.Err.Error())
}

// Unwrap returns the last error that caused the exhaustion.
func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetriesExhausted reports whether any error in the chain is a RetriesExhaustedError.
func IsRetriesExhausted(err error) bool {
	var ree *RetriesExhaustedError
	return errors.As(err, &ree)
}
