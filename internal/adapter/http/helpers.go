package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
	"github.com/Strob0t/FeedbackForge/internal/resilience"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	var unknown *tool.UnknownToolError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEncoding), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConfig):
		return http.StatusFailedDependency
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrChainRead), errors.Is(err, domain.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status statusFor assigns. Messages of
// client-side and upstream failures are passed through; anything else is
// logged and replaced by a generic message.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		writeError(w, status, fallbackMsg)
	case http.StatusBadRequest:
		writeError(w, status, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	case http.StatusFailedDependency:
		slog.Warn("request needs missing configuration", "error", err)
		writeError(w, status, err.Error())
	case http.StatusServiceUnavailable:
		writeError(w, status, "chain reads temporarily disabled")
	case http.StatusBadGateway:
		slog.Error("upstream failure", "error", err)
		writeError(w, status, err.Error())
	default:
		if errors.Is(err, domain.ErrSigning) {
			slog.Error("signing failed", "error", err)
			writeError(w, status, "signing failed")
			return
		}
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
