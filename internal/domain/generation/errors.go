package generation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("generation service unavailable")
	ErrUpstreamRejected    = errors.New("generation service rejected request")
	ErrJobNotFound         = errors.New("generation job not found")
	ErrInternal            = errors.New("internal error")
)

// InputError names the field that failed validation. It matches ErrInvalidInput.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, message string) error {
	return &InputError{Field: field, Message: message}
}

// UpstreamError is a generator failure. Kind is ErrUpstreamUnavailable or
// ErrUpstreamRejected. On Submit, CreditsRefunded is the amount the
// compensating refund returned to the user.
type UpstreamError struct {
	Kind            error
	Err             error
	CreditsRefunded int64
	NewBalance      *int64
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Is(target error) bool {
	return target == e.Kind
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
