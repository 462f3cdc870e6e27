package bridge

import (
	"errors"

	"github.com/gibberwallet/wavebridge/internal/engine"
)

// Bridge-level rejection codes. Session failures keep their session code.
const (
	CodeTransmissionFailed = "TRANSMISSION_FAILED"
	CodeDestroyed          = "DESTROYED"
	CodeBadRequest         = "BAD_REQUEST"
)

// BridgeError is the rejection value of a Promise.
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *BridgeError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Unwrap exposes the session error, if any.
func (e *BridgeError) Unwrap() error {
	return e.cause
}

// NewError builds a BridgeError without a cause.
func NewError(code, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// FromError converts err to a BridgeError carrying its normalized code.
func FromError(err error) *BridgeError {
	if err == nil {
		return nil
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be
	}
	return &BridgeError{Code: engine.Code(err), Message: err.Error(), cause: err}
}
