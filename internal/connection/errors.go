package connection

import (
	"errors"
	"fmt"
)

// Error represents a connection lifecycle error.
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
	ErrCodeNotConnected         = "NOT_CONNECTED"
	ErrCodeNoConfiguration      = "NO_CONFIGURATION"
	ErrCodeConnectFailed        = "CONNECT_FAILED"
	ErrCodeConnectionLost       = "CONNECTION_LOST"
	ErrCodeReconnectTooSoon     = "RECONNECT_TOO_SOON"
	ErrCodeMaxReconnectAttempts = "MAX_RECONNECT_ATTEMPTS"
	ErrCodeReconnectFailed      = "RECONNECT_FAILED"
)

// NewError creates a new connection error.
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool {
	var connErr *Error
	if errors.As(err, &connErr) {
		return connErr.Code == code
	}
	return false
}
