package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/snaplink/snaplink/internal/apperr"
)

// errorBody is the error envelope every service returns.
type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

// WriteError writes the error envelope for an explicit kind and message.
func WriteError(w http.ResponseWriter, kind apperr.Kind, message string) {
	WriteJSON(w, kind.HTTPStatus(), errorBody{ErrorCode: string(kind), Message: message})
}

// WriteAppError maps err onto the error envelope. Errors without an
// application kind become internal errors with a generic message so internals
// never leak to clients.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	if kind == apperr.KindInternal {
		log.Printf("[http] internal error: %v", err)
		msg = "internal server error"
	}
	WriteError(w, kind, msg)
}

// HealthChecker reports readiness of one dependency.
type HealthChecker func() error

// HealthHandler serves a readiness document built from named dependency
// checks. Any failing check yields 503 with per-check detail.
func HealthHandler(service string, checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type checkResult struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		results := make(map[string]checkResult, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(); err != nil {
				healthy = false
				results[name] = checkResult{Status: "down", Error: err.Error()}
			} else {
				results[name] = checkResult{Status: "up"}
			}
		}
		status := http.StatusOK
		overall := "up"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "down"
		}
		WriteJSON(w, status, map[string]any{
			"service": service,
			"status":  overall,
			"checks":  results,
		})
	}
}
