package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-orm/internal/persistence"
	"github.com/nerrad567/gray-orm/internal/staff"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeStale        = "stale_state"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// isValidationError reports an entity rejected by its own validation.
func isValidationError(err error) bool {
	for _, target := range []error{
		staff.ErrInvalidName,
		staff.ErrInvalidEmail,
		staff.ErrInvalidAge,
		staff.ErrInvalidAttributes,
		staff.ErrInvalidCIF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeStoreError maps a repository failure onto a response. what names
// the operation for the 500 message.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		writeNotFound(w, "not found")
	case errors.Is(err, persistence.ErrStaleState):
		writeError(w, http.StatusConflict, ErrCodeStale, "record was changed by someone else; reload and retry")
	case errors.Is(err, persistence.ErrConstraintViolation):
		writeError(w, http.StatusConflict, ErrCodeConflict, "change conflicts with existing records")
	case errors.Is(err, persistence.ErrResourceExhausted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "database busy, try again")
	default:
		s.logger.Error(what+" failed", "error", err)
		writeInternalError(w, "failed to "+what)
	}
}
