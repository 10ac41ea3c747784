package decoder

import (
	"errors"
	"fmt"
)

// Error represents a frame conversion failure.
type Error struct {
	Code     string
	Message  string
	Expected int
	Actual   int
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeInvalidDataSize   = "INVALID_DATA_SIZE"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeInvalidDimensions = "INVALID_DIMENSIONS"
)

// NewError creates a new decoder error.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func dataSizeError(format Format, expected, actual int) *Error {
	return &Error{
		Code:     ErrCodeInvalidDataSize,
		Message:  fmt.Sprintf("%s frame needs %d bytes, got %d", format, expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool {
	var decErr *Error
	if errors.As(err, &decErr) {
		return decErr.Code == code
	}
	return false
}
