package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-marketplace/internal/models"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError maps a domain error to its HTTP status and writes the envelope.
func WriteError(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, StatusFor(err), ErrorResponse(message, err.Error()))
}

// StatusFor maps the sentinel taxonomy in models to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEventCancelled),
		errors.Is(err, models.ErrEventAlreadyCancelled),
		errors.Is(err, models.ErrSalesClosed):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransientConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
