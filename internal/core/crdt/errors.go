package crdt

import (
	"errors"
	"fmt"
)

var (
	ErrUnregisteredComponent  = errors.New("component is not registered")
	ErrUnsupportedMessageType = errors.New("message type is not supported")
)

// ErrorCode is a numeric classification of protocol faults.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = iota

	// Integration faults (1000-1999): the two sides disagree on the schema set.

	ErrorCodeUnregisteredComponent ErrorCode = 1001
	ErrorCodeUnsupportedMessage    ErrorCode = 1002
)

// Error is a protocol fault carrying the offending message for diagnostics.
// It is never produced for outdated messages: losing a race is not a fault.
type Error struct {
	Code    ErrorCode
	Message Message
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("crdt: %v: %s", e.Cause, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches extra key/value details.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(code ErrorCode, cause error, msg Message) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// GetErrorCode extracts the code from any error produced by this package.
func GetErrorCode(err error) ErrorCode {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	switch {
	case errors.Is(err, ErrUnregisteredComponent):
		return ErrorCodeUnregisteredComponent
	case errors.Is(err, ErrUnsupportedMessageType):
		return ErrorCodeUnsupportedMessage
	default:
		return ErrorCodeUnknown
	}
}
