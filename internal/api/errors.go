package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/store"
	"github.com/gradient-trading/gradient/internal/wallet"
)

// Auth failures get their own error class so clients re-authenticate
// instead of retrying blindly.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Envelope is the response shape shared by every endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeInsufficient  = "INSUFFICIENT_BALANCE"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondData sends a success envelope.
func respondData(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// respondError sends a failure envelope.
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{Success: false, Error: message, Code: code})
}

// respondErr maps a domain error to a status code and failure envelope.
func respondErr(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	respondError(w, status, code, err.Error())
}

// mapError maps domain errors to HTTP status codes.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, sniper.ErrInvalidConfig):
		return http.StatusBadRequest, ErrCodeInvalidInput
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusBadRequest, ErrCodeInsufficient
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// parseJSONBody parses a JSON request body, rejecting unknown fields.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
