package domain

import (
	"errors"
	"fmt"
)

// Authentication errors.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccessDenied        = errors.New("access denied")
	ErrVerifierUnavailable = errors.New("identity service unavailable")
	ErrSessionNotFound     = errors.New("session not found")
	ErrGuardClosed         = errors.New("session guard closed")
)

// Content errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// User-facing messages.
const (
	MsgAccessDenied = "Access denied. Admin privileges required."
	MsgUnexpected   = "An unexpected error occurred. Please try again."
)

// AuthError is returned by a failed login. Kind is one of ErrInvalidCredentials,
// ErrAccessDenied or ErrVerifierUnavailable; Message is safe to show on the
// login form.
type AuthError struct {
	Kind    error
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// InvalidCredentials builds an AuthError from the identity service's message.
func InvalidCredentials(msg string, cause error) *AuthError {
	if msg == "" {
		msg = "Invalid login credentials"
	}
	return &AuthError{Kind: ErrInvalidCredentials, Message: msg, Err: cause}
}

// AccessDenied builds the AuthError for a verified identity without admin rights.
func AccessDenied() *AuthError {
	return &AuthError{Kind: ErrAccessDenied, Message: MsgAccessDenied}
}

// VerifierUnavailable builds the AuthError for transport or server failures.
func VerifierUnavailable(cause error) *AuthError {
	return &AuthError{Kind: ErrVerifierUnavailable, Message: MsgUnexpected, Err: cause}
}

// UserMessage extracts the form-safe message from err.
func UserMessage(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return MsgUnexpected
}
