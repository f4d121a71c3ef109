// Package services implements the business logic for provisioning ephemeral
// catalog variants. This file centralizes the service-level error taxonomy so
// it can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound indicates the credential bundle for the request's
	// session identifier does not exist. Fatal for the operation; not retried.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTimeout indicates an outbound catalog call exceeded its deadline.
	// Surfaced distinctly so callers can offer "retry" messaging.
	ErrTimeout = errors.New("catalog request timed out")

	// ErrCreationFailed indicates the catalog rejected the variant mutation.
	ErrCreationFailed = errors.New("variant creation failed")
)

// ValidationError reports a user-fixable input violation, naming the field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a duplicate in-flight provisioning request for the
// same configuration, with a hint for when to retry.
type ConflictError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("a request for this configuration is already running; retry in %s", e.RetryAfter)
}
