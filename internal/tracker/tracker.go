// Package tracker drives study sessions and their intervals through the
// interval state machine against storage, one compare-and-set at a time.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/studytrack/internal/clock"
	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/metrics"
	"github.com/goodtune/studytrack/internal/stats"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTransitionRetries bounds reload-and-retry loops on version conflicts
const DefaultTransitionRetries = 5

// ErrInvalidInput is returned for malformed caller input.
var ErrInvalidInput = errors.New("invalid input")

// RollupTrigger is told when an interval has been finalized.
type RollupTrigger interface {
	Nudge()
}

// Config holds tracker configuration
type Config struct {
	TransitionRetries int
}

// Tracker applies client and system operations to sessions and intervals
type Tracker struct {
	store     storage.Store
	clock     clock.Clock
	locations *stats.LocationCache
	rollup    RollupTrigger
	retries   int
	logger    zerolog.Logger
}

// New creates a tracker. rollup may be nil.
func New(store storage.Store, clk clock.Clock, locations *stats.LocationCache, rollup RollupTrigger, config Config, logger zerolog.Logger) *Tracker {
	if config.TransitionRetries == 0 {
		config.TransitionRetries = DefaultTransitionRetries
	}

	return &Tracker{
		store:     store,
		clock:     clk,
		locations: locations,
		rollup:    rollup,
		retries:   config.TransitionRetries,
		logger:    logger.With().Str("component", "tracker").Logger(),
	}
}

// Clock returns the tracker's time source
func (t *Tracker) Clock() clock.Clock {
	return t.clock
}

// CreateSession opens a new session for userID. An empty tz means UTC.
func (t *Tracker) CreateSession(ctx context.Context, userID, tz string) (*storage.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if tz == "" {
		tz = "UTC"
	}
	if _, err := t.locations.Load(tz); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	session := storage.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timezone:  tz,
		CreatedAt: t.clock.Now(),
	}

	if err := t.store.Sessions().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	t.logger.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Str("timezone", tz).
		Msg("Session created")

	return &session, nil
}

// CreateInterval appends the next interval to a session. The previous
// interval must already be terminal.
func (t *Tracker) CreateInterval(ctx context.Context, userID, sessionID string, typ interval.Type) (*interval.Interval, error) {
	typ, err := interval.ParseType(string(typ))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for attempt := 0; attempt < t.retries; attempt++ {
		session, err := t.ownedSession(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		if session.Closed {
			return nil, storage.ErrSessionClosed
		}

		previousID := ""
		if session.IntervalCount > 0 {
			ids, err := t.store.Sessions().IntervalIDs(ctx, sessionID)
			if err != nil {
				return nil, fmt.Errorf("failed to list intervals: %w", err)
			}
			if len(ids) != session.IntervalCount {
				continue
			}
			previousID = ids[len(ids)-1]
		}

		iv := interval.Interval{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			UserID:     session.UserID,
			Type:       typ,
			OrderIndex: session.IntervalCount,
			Status:     interval.StatusPending,
			CreatedAt:  t.clock.Now(),
			Version:    1,
		}

		err = t.store.Intervals().Append(ctx, iv, session.IntervalCount, previousID)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		t.logger.Info().
			Str("interval_id", iv.ID).
			Str("session_id", sessionID).
			Str("type", string(typ)).
			Int("order_index", iv.OrderIndex).
			Msg("Interval created")

		return &iv, nil
	}

	return nil, fmt.Errorf("failed to append interval to %s: %w", sessionID, storage.ErrConflict)
}

// GetInterval returns an interval owned by userID
func (t *Tracker) GetInterval(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	iv, err := t.store.Intervals().Get(ctx, intervalID)
	if err != nil {
		return nil, err
	}
	if iv.UserID != userID {
		return nil, interval.ErrOwnershipViolation
	}
	return iv, nil
}

// Start moves a PENDING interval to RUNNING.
func (t *Tracker) Start(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	return t.transition(ctx, userID, intervalID, interval.OpStart, "")
}

// Pause freezes the active-time counter.
func (t *Tracker) Pause(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	return t.transition(ctx, userID, intervalID, interval.OpPause, "")
}

// Resume restarts accrual from now.
func (t *Tracker) Resume(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	return t.transition(ctx, userID, intervalID, interval.OpResume, "")
}

// Ping records a heartbeat.
func (t *Tracker) Ping(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	return t.transition(ctx, userID, intervalID, interval.OpPing, "")
}

// Complete finalizes the interval at now.
func (t *Tracker) Complete(ctx context.Context, userID, intervalID string) (*interval.Interval, error) {
	return t.transition(ctx, userID, intervalID, interval.OpComplete, "")
}

// Abandon finalizes the interval at its last confirmed live instant. It is
// system-invoked and skips the ownership check.
func (t *Tracker) Abandon(ctx context.Context, intervalID, reason string) (*interval.Interval, error) {
	return t.transition(ctx, "", intervalID, interval.OpAbandon, reason)
}

// transition loads, applies op and writes back under the loaded version,
// reloading on conflict. An empty userID marks a system caller.
func (t *Tracker) transition(ctx context.Context, userID, intervalID string, op interval.Op, reason string) (*interval.Interval, error) {
	for attempt := 0; attempt < t.retries; attempt++ {
		current, err := t.store.Intervals().Get(ctx, intervalID)
		if err != nil {
			return nil, t.outcome(op, err)
		}
		if userID != "" && current.UserID != userID {
			return nil, t.outcome(op, interval.ErrOwnershipViolation)
		}

		if op == interval.OpStart && current.Status == interval.StatusPending {
			if err := t.checkPreceding(ctx, current); err != nil {
				return nil, t.outcome(op, err)
			}
		}

		next, err := interval.Apply(*current, op, t.clock.Now())
		if err != nil {
			return nil, t.outcome(op, err)
		}

		err = t.store.Intervals().Update(ctx, next, current.Version)
		if errors.Is(err, storage.ErrConflict) {
			t.logger.Debug().
				Str("interval_id", intervalID).
				Str("op", string(op)).
				Int("attempt", attempt+1).
				Msg("Version conflict, reloading")
			continue
		}
		if err != nil {
			return nil, t.outcome(op, err)
		}

		next.Version = current.Version + 1
		t.outcome(op, nil)
		if next.Status.Terminal() {
			t.finalized(next, reason)
		}

		t.logger.Debug().
			Str("interval_id", intervalID).
			Str("op", string(op)).
			Str("status", string(next.Status)).
			Msg("Interval transitioned")

		return &next, nil
	}

	return nil, t.outcome(op, fmt.Errorf("%s %s: %w", op, intervalID, storage.ErrConflict))
}

// checkPreceding verifies the interval before iv in its session is terminal.
func (t *Tracker) checkPreceding(ctx context.Context, iv *interval.Interval) error {
	if iv.OrderIndex == 0 {
		return nil
	}

	ids, err := t.store.Sessions().IntervalIDs(ctx, iv.SessionID)
	if err != nil {
		return err
	}
	if iv.OrderIndex > len(ids) {
		return fmt.Errorf("interval %s has order %d beyond session length %d", iv.ID, iv.OrderIndex, len(ids))
	}

	previous, err := t.store.Intervals().Get(ctx, ids[iv.OrderIndex-1])
	if err != nil {
		return err
	}
	if !previous.Status.Terminal() {
		return interval.ErrPrecedingIntervalNotFinalized
	}
	return nil
}

// finalized records a terminal transition and wakes the rollup worker.
func (t *Tracker) finalized(iv interval.Interval, reason string) {
	metrics.IntervalsFinalized.WithLabelValues(string(iv.Status), string(iv.Type)).Inc()
	metrics.SecondsTracked.WithLabelValues(string(iv.Type)).Add(float64(iv.Duration))
	if iv.Status == interval.StatusAbandoned && reason != "" {
		metrics.IntervalsAbandoned.WithLabelValues(reason).Inc()
	}

	t.logger.Info().
		Str("interval_id", iv.ID).
		Str("session_id", iv.SessionID).
		Str("status", string(iv.Status)).
		Int64("duration", iv.Duration).
		Msg("Interval finalized")

	if t.rollup != nil {
		t.rollup.Nudge()
	}
}

// outcome counts op by result and passes err through.
func (t *Tracker) outcome(op interval.Op, err error) error {
	metrics.TransitionsTotal.WithLabelValues(string(op), resultLabel(err)).Inc()
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interval.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, interval.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, interval.ErrNotLive):
		return "not_live"
	case errors.Is(err, interval.ErrPrecedingIntervalNotFinalized):
		return "preceding_not_finalized"
	case errors.Is(err, interval.ErrOwnershipViolation):
		return "ownership_violation"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (t *Tracker) ownedSession(ctx context.Context, userID, sessionID string) (*storage.Session, error) {
	session, err := t.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, interval.ErrOwnershipViolation
	}
	return session, nil
}
