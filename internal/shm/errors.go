package shm

import (
	"errors"
	"fmt"
)

// Error represents a shared-memory protocol error.
type Error struct {
	Code    string
	Message string
	Cause   error
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
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeNotConnected       = "NOT_CONNECTED"
	ErrCodeMappingFailed      = "MAPPING_FAILED"
	ErrCodeInvalidLayout      = "INVALID_LAYOUT"
	ErrCodeInvalidFrameOffset = "INVALID_FRAME_OFFSET"
	ErrCodeInvalidFrameSize   = "INVALID_FRAME_SIZE"
	ErrCodeInvalidName        = "INVALID_NAME"
)

// NewError creates a new shared-memory error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool {
	var shmErr *Error
	if errors.As(err, &shmErr) {
		return shmErr.Code == code
	}
	return false
}

// IsReadFailure reports whether err means the mapping can no longer be trusted
// and the connection should be health-checked.
func IsReadFailure(err error) bool {
	return IsCode(err, ErrCodeNotConnected) ||
		IsCode(err, ErrCodeInvalidFrameOffset) ||
		IsCode(err, ErrCodeInvalidFrameSize)
}
