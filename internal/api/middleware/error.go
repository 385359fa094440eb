// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/apperr"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// WriteAppError maps an application error to its HTTP status. Storage and
// unclassified errors surface as a generic 500 without internal detail.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status, code := http.StatusInternalServerError, "internal_error"
	message := apperr.MessageOf(err)

	switch kind {
	case apperr.KindNotFound:
		status, code = http.StatusNotFound, "not_found"
	case apperr.KindPermissionDenied:
		status, code = http.StatusForbidden, "permission_denied"
	case apperr.KindConflict:
		status, code = http.StatusConflict, "conflict"
	case apperr.KindInvalidState:
		status, code = http.StatusBadRequest, "invalid_state"
	case apperr.KindInvalidInput:
		status, code = http.StatusBadRequest, "validation_error"
	default:
		message = "An unexpected error occurred"
	}

	WriteError(w, status, code, message)
}

// ErrorRecovery is middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Errorw("panic recovered", "error", err, "stack", string(debug.Stack()))
					WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
