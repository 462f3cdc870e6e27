package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/driver"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/journal"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Transport-level codes.
var (
	ErrBadRequest = errors.New(bridge.CodeBadRequest)
	ErrNotFound   = errors.New("NOT_FOUND")
)

// statusByCode maps bridge and session codes to HTTP status.
var statusByCode = map[string]int{
	engine.ErrInvalidConfig.Error():      http.StatusBadRequest,
	engine.ErrInvalidRange.Error():       http.StatusBadRequest,
	engine.ErrPayloadTooLong.Error():     http.StatusBadRequest,
	bridge.CodeBadRequest:                http.StatusBadRequest,
	engine.ErrNotInitialized.Error():     http.StatusConflict,
	engine.ErrAlreadyInitialized.Error(): http.StatusConflict,
	engine.ErrNotListening.Error():       http.StatusConflict,
	engine.ErrHalfDuplex.Error():         http.StatusConflict,
	engine.ErrBusy.Error():               http.StatusConflict,
	bridge.CodeTransmissionFailed:        http.StatusBadGateway,
	engine.ErrUnavailable.Error():        http.StatusServiceUnavailable,
	bridge.CodeDestroyed:                 http.StatusServiceUnavailable,
	engine.ErrCancelled.Error():          http.StatusRequestTimeout,
	ErrNotFound.Error():                  http.StatusNotFound,
	engine.ErrInternal.Error():           http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status for a bridge error code.
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToAPIError converts err to an APIError.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, ErrBadRequest) {
		return NewAPIError(bridge.CodeBadRequest, err.Error(), http.StatusBadRequest, nil)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, driver.ErrNotFound) || errors.Is(err, journal.ErrNotFound) {
		return NewAPIError(ErrNotFound.Error(), "Resource not found", http.StatusNotFound, nil)
	}

	be := bridge.FromError(err)
	message := be.Message
	if be.Code == engine.ErrInternal.Error() {
		message = "Internal server error"
	}
	return NewAPIError(be.Code, message, StatusForCode(be.Code), nil)
}
