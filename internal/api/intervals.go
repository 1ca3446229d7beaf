package api

import (
	"context"
	"net/http"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// IntervalHandler handles interval requests.
type IntervalHandler struct {
	tracker *tracker.Tracker
	logger  zerolog.Logger
}

// NewIntervalHandler creates a new interval handler.
func NewIntervalHandler(tr *tracker.Tracker, logger zerolog.Logger) *IntervalHandler {
	return &IntervalHandler{
		tracker: tr,
		logger:  logger.With().Str("handler", "intervals").Logger(),
	}
}

type operation func(ctx context.Context, userID, intervalID string) (*interval.Interval, error)

// Get handles GET /intervals/{id}
func (h *IntervalHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.GetInterval)
}

// Start handles POST /intervals/{id}/start
func (h *IntervalHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Start)
}

// Pause handles POST /intervals/{id}/pause
func (h *IntervalHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Pause)
}

// Resume handles POST /intervals/{id}/resume
func (h *IntervalHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Resume)
}

// Ping handles POST /intervals/{id}/ping
func (h *IntervalHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Ping)
}

// Complete handles POST /intervals/{id}/complete
func (h *IntervalHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.tracker.Complete)
}

func (h *IntervalHandler) respond(w http.ResponseWriter, r *http.Request, op operation) {
	userID, _ := GetUserIDFromContext(r.Context())

	iv, err := op(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, tracker.NewIntervalView(*iv, h.tracker.Clock().Now()))
}
