package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/stats"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/goodtune/studytrack/internal/tracker"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// Machine-readable error reasons.
const (
	ReasonInvalidTransition  = "INVALID_TRANSITION"
	ReasonAlreadyFinalized   = "ALREADY_FINALIZED"
	ReasonNotLive            = "NOT_LIVE"
	ReasonPrecedingNotFinal  = "PRECEDING_INTERVAL_NOT_FINALIZED"
	ReasonSessionClosed      = "SESSION_CLOSED"
	ReasonOwnershipViolation = "OWNERSHIP_VIOLATION"
	ReasonNotFound           = "NOT_FOUND"
	ReasonValidation         = "VALIDATION_ERROR"
	ReasonConflict           = "CONFLICT"
	ReasonInternal           = "INTERNAL_ERROR"
)

// classify maps a domain error to its status code and reason.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, interval.ErrInvalidTransition):
		return http.StatusConflict, ReasonInvalidTransition
	case errors.Is(err, interval.ErrAlreadyFinalized):
		return http.StatusConflict, ReasonAlreadyFinalized
	case errors.Is(err, interval.ErrNotLive):
		return http.StatusConflict, ReasonNotLive
	case errors.Is(err, interval.ErrPrecedingIntervalNotFinalized):
		return http.StatusConflict, ReasonPrecedingNotFinal
	case errors.Is(err, storage.ErrSessionClosed):
		return http.StatusConflict, ReasonSessionClosed
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, ReasonConflict
	case errors.Is(err, interval.ErrOwnershipViolation):
		return http.StatusForbidden, ReasonOwnershipViolation
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ReasonNotFound
	case errors.Is(err, tracker.ErrInvalidInput), errors.Is(err, stats.ErrInvalidPeriod):
		return http.StatusBadRequest, ReasonValidation
	default:
		return http.StatusInternalServerError, ReasonInternal
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, reason, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Reason:  reason,
		Message: message,
		Code:    statusCode,
	})
}

// writeDomainError maps err onto the HTTP error surface. Internal errors are
// logged and their detail withheld from the caller.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status, reason := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
		writeError(w, status, reason, "Internal error")
		return
	}
	writeError(w, status, reason, err.Error())
}
