// Package api holds the JSON response helpers shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pizza-nz/print-agent/internal/registry"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/transport"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON writes v as the JSON body with the given status
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// RespondError writes {"error": message}
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, message)
}

// Fail maps err to a status code and writes it.
func Fail(w http.ResponseWriter, err error) {
	RespondError(w, StatusFor(err), err.Error())
}

// StatusFor returns the HTTP status matching a domain error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownRole):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDeviceNotFound), errors.Is(err, transport.ErrNoCandidates):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrConnecting), errors.Is(err, registry.ErrConnectAborted):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNoDiscoverer):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNothingToPrint):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, transport.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, transport.ErrNoWritableCharacteristic):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
