package api

import (
	"encoding/json"
	"net/http"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// CreateIntervalRequest is the body of POST /sessions/{id}/intervals.
type CreateIntervalRequest struct {
	Type interval.Type `json:"type"`
}

// SessionHandler handles session requests.
type SessionHandler struct {
	tracker *tracker.Tracker
	logger  zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(tr *tracker.Tracker, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		tracker: tr,
		logger:  logger.With().Str("handler", "sessions").Logger(),
	}
}

// Create handles POST /sessions. The session time zone is always the
// identity's preference; any request body is ignored.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	tz, _ := GetTimezoneFromContext(r.Context())

	session, err := h.tracker.CreateSession(r.Context(), userID, tz)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	summary, err := h.tracker.Summary(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// CreateInterval handles POST /sessions/{id}/intervals
func (h *SessionHandler) CreateInterval(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	var req CreateIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ReasonValidation, "Invalid request body")
		return
	}

	iv, err := h.tracker.CreateInterval(r.Context(), userID, mux.Vars(r)["id"], req.Type)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, tracker.NewIntervalView(*iv, h.tracker.Clock().Now()))
}

// Close handles POST /sessions/{id}/close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	summary, err := h.tracker.CloseSession(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Abandon handles POST /sessions/{id}/abandon
func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	summary, err := h.tracker.CancelSession(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
