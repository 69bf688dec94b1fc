package portal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// ErrTokenInvalid is returned for tokens that fail signature or claim checks.
var ErrTokenInvalid = errors.New("portal: invalid token")

// Error represents a structured error response.
type Error struct {
	Status  int          `json:"status"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError is one rejected settings field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeBusy         = "busy"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeValidationError writes a 400 listing every rejected field.
func writeValidationError(w http.ResponseWriter, err error) {
	resp := Error{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeValidation,
		Message: "settings rejected",
	}
	for _, fe := range settings.FieldErrors(err) {
		resp.Fields = append(resp.Fields, FieldError{Field: fe.Field, Reason: fe.Reason})
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
