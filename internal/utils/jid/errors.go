package jid

import (
	"errors"
	"fmt"
)

// Code classifies a ValidationError.
type Code string

const (
	CodeEmptyRecipient     Code = "EMPTY_RECIPIENT"
	CodeMalformedRecipient Code = "MALFORMED_RECIPIENT"
	CodeUnsupportedServer  Code = "UNSUPPORTED_SERVER"
	CodeTooManyRecipients  Code = "TOO_MANY_RECIPIENTS"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeInvalidReference   Code = "INVALID_REFERENCE"
)

// ValidationError is returned for input rejected at the boundary. It never
// reaches persistence.
type ValidationError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Invalid creates a ValidationError.
func Invalid(code Code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// Wrap creates a ValidationError carrying its cause.
func Wrap(code Code, message string, cause error) *ValidationError {
	return &ValidationError{Code: code, Message: message, Cause: cause}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
