package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an identity operation failure. The set is closed:
// callers switch on Kind instead of inspecting message text.
type Kind string

const (
	// KindInvalidCredentials indicates the identity service rejected the
	// supplied email/password pair.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindNetwork indicates a transport-level failure reaching the identity
	// service or record store.
	KindNetwork Kind = "network"
	// KindConflict indicates a uniqueness conflict with existing data
	// (e.g., an email or role row that already exists).
	KindConflict Kind = "conflict"
	// KindValidation indicates the input was rejected as invalid.
	KindValidation Kind = "validation"
	// KindUnknown indicates an unclassified failure.
	KindUnknown Kind = "unknown"
)

// AuthError is the typed failure returned across the identity core's public
// boundary. The triggering error is carried as Cause and never re-thrown;
// it supports errors.Is and errors.As for unwrapping.
type AuthError struct {
	// Kind categorizes the failure
	Kind Kind
	// Message is a human-readable message, surfaced verbatim to the UI
	Message string
	// Cause is the underlying error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// InvalidCredentials creates a new invalid-credentials error.
func InvalidCredentials(message string) *AuthError {
	return &AuthError{Kind: KindInvalidCredentials, Message: message}
}

// Network creates a new network error.
func Network(message string) *AuthError {
	return &AuthError{Kind: KindNetwork, Message: message}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AuthError {
	return &AuthError{Kind: KindConflict, Message: message}
}

// Validation creates a new validation error.
func Validation(message string) *AuthError {
	return &AuthError{Kind: KindValidation, Message: message}
}

// Unknown creates a new unclassified error.
func Unknown(message string) *AuthError {
	return &AuthError{Kind: KindUnknown, Message: message}
}

// Wrap wraps an existing error with an AuthError, preserving the cause.
func Wrap(err error, kind Kind, message string) *AuthError {
	if err == nil {
		return nil
	}
	return &AuthError{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AuthError and formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *AuthError {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// From coerces any error into an *AuthError. Errors that already carry a
// kind pass through unchanged; everything else becomes KindUnknown.
func From(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return &AuthError{Kind: KindUnknown, Message: err.Error(), Cause: err}
}

// isKind checks if an error carries a specific failure kind.
func isKind(err error, kind Kind) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == kind
}

// IsInvalidCredentials checks if an error is an invalid-credentials error.
func IsInvalidCredentials(err error) bool {
	return isKind(err, KindInvalidCredentials)
}

// IsNetwork checks if an error is a network error.
func IsNetwork(err error) bool {
	return isKind(err, KindNetwork)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return isKind(err, KindConflict)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return isKind(err, KindValidation)
}

// GetKind returns the Kind from an error, or empty string if the error does
// not carry one.
func GetKind(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}
