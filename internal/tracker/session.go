package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
)

// Summary is the aggregated view of a session.
type Summary struct {
	Session      storage.Session                      `json:"session"`
	Intervals    []IntervalView                       `json:"intervals"`
	TotalSeconds int64                                `json:"total_seconds"`
	ByType       map[interval.Type]storage.TypeTotals `json:"by_type"`
	Current      *IntervalView                        `json:"current,omitempty"`
	Complete     bool                                 `json:"complete"`
}

// IntervalView is an interval with its provisional active time.
type IntervalView struct {
	interval.Interval
	ActiveSeconds int64 `json:"active_seconds"`
}

// NewIntervalView renders iv as of now.
func NewIntervalView(iv interval.Interval, now time.Time) IntervalView {
	return IntervalView{Interval: iv, ActiveSeconds: iv.ActiveSeconds(now)}
}

// Summarize aggregates a session's intervals. Totals count terminal
// intervals only, so they never shrink as the session progresses. The
// current interval is whichever one is live, derived on every call.
func Summarize(session storage.Session, intervals []interval.Interval, now time.Time) Summary {
	summary := Summary{
		Session:   session,
		Intervals: make([]IntervalView, 0, len(intervals)),
		ByType:    make(map[interval.Type]storage.TypeTotals),
	}

	allTerminal := true
	for _, iv := range intervals {
		view := NewIntervalView(iv, now)
		summary.Intervals = append(summary.Intervals, view)

		if !iv.Status.Terminal() {
			allTerminal = false
			if iv.Status.Live() {
				current := view
				summary.Current = &current
			}
			continue
		}

		summary.TotalSeconds += iv.Duration
		tt := summary.ByType[iv.Type]
		tt.Seconds += iv.Duration
		tt.Count++
		summary.ByType[iv.Type] = tt
	}

	summary.Complete = session.Closed && allTerminal
	return summary
}

// Summary loads and aggregates a session owned by userID
func (t *Tracker) Summary(ctx context.Context, userID, sessionID string) (*Summary, error) {
	session, err := t.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return t.summarize(ctx, session)
}

func (t *Tracker) summarize(ctx context.Context, session *storage.Session) (*Summary, error) {
	ids, err := t.store.Sessions().IntervalIDs(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intervals: %w", err)
	}

	intervals, err := t.store.Intervals().GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load intervals: %w", err)
	}

	summary := Summarize(*session, intervals, t.clock.Now())
	return &summary, nil
}

// CloseSession marks the session closed so no further intervals can be
// appended. Closing twice is harmless.
func (t *Tracker) CloseSession(ctx context.Context, userID, sessionID string) (*Summary, error) {
	session, err := t.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	changed, err := t.store.Sessions().MarkClosed(ctx, sessionID, t.clock.Now(), false)
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	if changed {
		t.logger.Info().Str("session_id", sessionID).Msg("Session closed")
	}

	if session, err = t.store.Sessions().Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return t.summarize(ctx, session)
}

// CancelSession closes the session and abandons every interval that is not
// yet terminal. Each is cut off at its own last ping, not at the time of
// the cancellation.
func (t *Tracker) CancelSession(ctx context.Context, userID, sessionID string) (*Summary, error) {
	session, err := t.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := t.store.Sessions().MarkClosed(ctx, sessionID, t.clock.Now(), true); err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}

	ids, err := t.store.Sessions().IntervalIDs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intervals: %w", err)
	}
	intervals, err := t.store.Intervals().GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load intervals: %w", err)
	}

	abandoned := 0
	for _, iv := range intervals {
		if iv.Status.Terminal() {
			continue
		}
		_, err := t.Abandon(ctx, iv.ID, "cancel")
		if isSettled(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to abandon interval %s: %w", iv.ID, err)
		}
		abandoned++
	}

	t.logger.Info().
		Str("session_id", sessionID).
		Int("abandoned", abandoned).
		Msg("Session cancelled")

	if session, err = t.store.Sessions().Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return t.summarize(ctx, session)
}
