package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized session error codes.
var (
	ErrNotInitialized     = errors.New("NOT_INITIALIZED")
	ErrAlreadyInitialized = errors.New("ALREADY_INITIALIZED")
	ErrHalfDuplex         = errors.New("HALF_DUPLEX")
	ErrNotListening       = errors.New("NOT_LISTENING")
	ErrPayloadTooLong     = errors.New("PAYLOAD_TOO_LONG")
	ErrInvalidConfig      = errors.New("INVALID_CONFIG")
	ErrInvalidRange       = errors.New("INVALID_RANGE")
	ErrBusy               = errors.New("BUSY")
	ErrUnavailable        = errors.New("UNAVAILABLE")
	ErrCancelled          = errors.New("CANCELLED")
	ErrInternal           = errors.New("INTERNAL")
)

var codes = []error{
	ErrNotInitialized,
	ErrAlreadyInitialized,
	ErrHalfDuplex,
	ErrNotListening,
	ErrPayloadTooLong,
	ErrInvalidConfig,
	ErrInvalidRange,
	ErrBusy,
	ErrUnavailable,
	ErrCancelled,
	ErrInternal,
}

// Code returns the normalized code carried by err, or INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled.Error()
	}
	return ErrInternal.Error()
}

// DriverMap lists the message tokens a driver emits for each code.
type DriverMap struct {
	InvalidConfig []string
	Busy          []string
	Unavailable   []string
	TooLong       []string
}

// DriverErrorMappings holds the token tables per driver id. Matching is
// case-insensitive substring; unknown tokens map to INTERNAL and unknown
// drivers fall back to "generic".
var DriverErrorMappings = map[string]DriverMap{
	"ggwave": {
		InvalidConfig: []string{
			"INVALID SAMPLE RATE",
			"INVALID PROTOCOL",
			"UNSUPPORTED PROTOCOL",
			"INVALID PAYLOAD LENGTH",
			"INVALID VOLUME",
			"FAILED TO INITIALIZE",
		},
		Busy: []string{
			"ALREADY CAPTURING",
			"ALREADY PLAYING",
			"TX QUEUE FULL",
			"AUDIO DEVICE BUSY",
		},
		Unavailable: []string{
			"MICROPHONE PERMISSION DENIED",
			"AUDIO SESSION NOT AVAILABLE",
			"NO INPUT DEVICE",
			"NO OUTPUT DEVICE",
			"INTERRUPTED",
		},
		TooLong: []string{
			"PAYLOAD TOO LONG",
			"TEXT TOO LONG",
		},
	},
	"generic": {
		InvalidConfig: []string{"INVALID_CONFIG", "UNSUPPORTED", "BAD_CONFIG"},
		Busy:          []string{"BUSY", "RETRY", "IN_PROGRESS"},
		Unavailable:   []string{"UNAVAILABLE", "NOT AVAILABLE", "NOT_AVAILABLE", "OFFLINE", "NOT_READY", "CLOSED"},
		TooLong:       []string{"TOO_LONG", "PAYLOAD_TOO_LONG"},
	},
}

// EngineError wraps a driver failure with its normalized code.
type EngineError struct {
	Code     error       // normalized code
	Original error       // driver error
	Details  interface{} // driver payload (opaque)
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%v (engine: %v)", e.Code, e.Original)
}

func (e *EngineError) Unwrap() error {
	return e.Code
}

// NormalizeEngineError maps a driver error through the generic table.
func NormalizeEngineError(err error, payload interface{}) error {
	return NormalizeEngineErrorWithDriver(err, payload, "generic")
}

// NormalizeEngineErrorWithDriver maps a driver error through the driver's
// token table. Errors that already carry a normalized code are returned
// unchanged.
func NormalizeEngineErrorWithDriver(err error, payload interface{}, driverID string) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	for _, c := range codes {
		if errors.Is(err, c) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &EngineError{Code: ErrCancelled, Original: err, Details: payload}
	}

	return &EngineError{
		Code:     mapDriverErrorToCode(err.Error(), driverID),
		Original: err,
		Details:  payload,
	}
}

func mapDriverErrorToCode(msg, driverID string) error {
	m, ok := DriverErrorMappings[driverID]
	if !ok {
		m = DriverErrorMappings["generic"]
	}

	upper := strings.ToUpper(msg)
	match := func(tokens []string) bool {
		for _, t := range tokens {
			if strings.Contains(upper, strings.ToUpper(t)) {
				return true
			}
		}
		return false
	}

	switch {
	case match(m.TooLong):
		return ErrPayloadTooLong
	case match(m.InvalidConfig):
		return ErrInvalidConfig
	case match(m.Busy):
		return ErrBusy
	case match(m.Unavailable):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
