package domain

import (
	"errors"
	"fmt"
)

// Session and hub failures
var (
	ErrClientNotFound      = errors.New("visitor session not attached")
	ErrClientAlreadyExists = errors.New("visitor session already attached")
	ErrHubNotStarted       = errors.New("hub not started")
	ErrHubStopped          = errors.New("hub stopped")
	ErrConnectionClosed    = errors.New("visitor session closed")

	// ErrInvalidMessage is returned for a frame without a message type
	ErrInvalidMessage = errors.New("frame has no message type")
)

// Code is the machine-readable reason carried by an error frame or a
// rejecting close frame.
type Code string

const (
	// CodeUnknownRequest means no handler serves the request type
	CodeUnknownRequest Code = "UNKNOWN_REQUEST"
	// CodeMalformedFrame means the frame could not be decoded
	CodeMalformedFrame Code = "MALFORMED_FRAME"
	// CodeSessionRejected means the hub refused to attach the session
	CodeSessionRejected Code = "SESSION_REJECTED"
	// CodeInternal covers handler failures without a more specific code
	CodeInternal Code = "INTERNAL"
)

// RequestError is a failed request as reported back to the visitor
type RequestError struct {
	Code    Code
	Message string
	Cause   error
}

// NewRequestError creates a new request error
func NewRequestError(code Code, message string, cause error) *RequestError {
	return &RequestError{Code: code, Message: message, Cause: cause}
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Payload returns the body of the error frame sent for e
func (e *RequestError) Payload() ErrorPayload {
	return ErrorPayload{Code: string(e.Code), Message: e.Message}
}

// AsRequestError returns the RequestError in err's chain, or an internal
// one wrapping err.
func AsRequestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return NewRequestError(CodeInternal, "request failed", err)
}
