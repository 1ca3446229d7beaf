package api

import (
	"net/http"

	"github.com/goodtune/studytrack/internal/clock"
	"github.com/goodtune/studytrack/internal/stats"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/rs/zerolog"
)

// periodParams names the query parameter selecting each granularity's period.
var periodParams = map[storage.Granularity]string{
	storage.Daily:   "date",
	storage.Monthly: "month",
	storage.Yearly:  "year",
}

// StatsHandler serves rolled-up statistics.
type StatsHandler struct {
	store     storage.StatsStore
	locations *stats.LocationCache
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store storage.StatsStore, locations *stats.LocationCache, clk clock.Clock, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		store:     store,
		locations: locations,
		clock:     clk,
		logger:    logger.With().Str("handler", "stats").Logger(),
	}
}

// Bucket returns a handler for GET /stats/{granularity}. Without a period
// parameter the current period in the caller's time zone is used.
func (h *StatsHandler) Bucket(g storage.Granularity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := GetUserIDFromContext(r.Context())

		period := r.URL.Query().Get(periodParams[g])
		if period == "" {
			tz, _ := GetTimezoneFromContext(r.Context())
			loc, err := h.locations.Load(tz)
			if err != nil {
				writeError(w, http.StatusBadRequest, ReasonValidation, err.Error())
				return
			}
			period = stats.CurrentPeriod(g, h.clock.Now(), loc)
		}

		bucket, err := stats.Lookup(r.Context(), h.store, userID, g, period)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}

		writeJSON(w, http.StatusOK, bucket)
	}
}
