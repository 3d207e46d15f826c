package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "send_failed",
				Message: "issue could not be spooled",
				Err:     errors.New("handler exploded"),
			},
			expected: "issue could not be spooled: handler exploded",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "issue is already pending",
			},
			expected: "issue is already pending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	domainErr := NewDomainError("invalid_state", "cannot queue", ErrInvalidStateTransition)

	assert.ErrorIs(t, domainErr, ErrInvalidStateTransition)
	assert.Equal(t, ErrInvalidStateTransition, domainErr.Unwrap())
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("mail", "must be a valid email address")

	assert.Equal(t, "mail", err.Field)
	assert.Equal(t, "validation failed for field mail: must be a valid email address", err.Error())
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"subscriber", ErrSubscriberNotFound, true},
		{"wrapped newsletter", fmt.Errorf("load: %w", ErrNewsletterNotFound), true},
		{"issue", ErrIssueNotFound, true},
		{"invalid token hides as not found", ErrInvalidToken, true},
		{"expired token is recoverable", ErrTokenExpired, false},
		{"other", ErrInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFound(tt.err))
		})
	}
}
