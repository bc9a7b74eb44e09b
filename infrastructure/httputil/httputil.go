package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/acme-industrial/enms-analytics/infrastructure/logging"
)

// ErrorResponse is the standard error envelope for rate-limit, connection
// throttle, and unstructured internal failures. ServiceErrors from the
// engines are written in this same envelope by httpapi's writeError (see
// internal/app/httpapi/errors.go).
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteErrorResponse writes the `{error, message, details, trace_id}`
// envelope used by the rate-limit and connection-throttle layers.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	var traceID string
	if r != nil {
		traceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
		TraceID: traceID,
	})
}

// DecodeJSON decodes a JSON request body into v, writing a 400 response and
// returning false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large", nil)
			return false
		}
		WriteErrorResponse(w, r, http.StatusBadRequest, "invalid_json", "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}
