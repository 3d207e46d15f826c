package errors

import (
	"errors"
	"fmt"
)

var (
	// Subscriber errors
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSubscriberBlocked  = errors.New("subscriber is blocked")

	// Newsletter and issue errors
	ErrNewsletterNotFound     = errors.New("newsletter not found")
	ErrIssueNotFound          = errors.New("issue not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Confirmation errors
	ErrInvalidToken = errors.New("invalid confirmation token")
	ErrTokenExpired = errors.New("confirmation token expired")

	// Spool errors
	ErrInvalidRecipient = errors.New("recipient must have exactly one of subscriber id or address")
	ErrInvalidOutcome   = errors.New("spool outcome must be done or skipped")

	// Recipient handler errors
	ErrHandlerNotFound      = errors.New("recipient handler not found")
	ErrSingleNewsletterOnly = errors.New("recipient handler requires a single newsletter id")

	// Transport errors
	ErrTransportNotFound    = errors.New("mail transport not found")
	ErrTransportUnavailable = errors.New("mail transport unavailable")
	ErrTransportRejected    = errors.New("message rejected by transport")

	// Lock errors
	ErrLockNotHeld = errors.New("lock not held")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsNotFound reports whether err is one of the not-found conditions. Invalid
// tokens count as not found so callers never reveal whether an address exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound) ||
		errors.Is(err, ErrNewsletterNotFound) ||
		errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrInvalidToken)
}
