package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/metrics"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is how often the pending set is drained without a nudge
	DefaultInterval = 15 * time.Second

	// DefaultMaxAttempts bounds retries of a single rollup within one pass
	DefaultMaxAttempts = 5

	// DefaultRetryBackoff is the first retry delay; it doubles per attempt
	DefaultRetryBackoff = 200 * time.Millisecond

	// DefaultBatchSize caps the intervals taken per pass
	DefaultBatchSize = 500
)

// Config holds rollup worker configuration
type Config struct {
	Interval     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	BatchSize    int64
}

// Worker drains the pending-rollup set into the stats buckets.
type Worker struct {
	store     storage.Store
	locations *LocationCache
	config    Config
	logger    zerolog.Logger

	nudge    chan struct{}
	stopChan chan struct{}
	done     chan struct{}
}

// NewWorker creates a rollup worker
func NewWorker(store storage.Store, locations *LocationCache, config Config, logger zerolog.Logger) *Worker {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Worker{
		store:     store,
		locations: locations,
		config:    config,
		logger:    logger.With().Str("component", "rollup-worker").Logger(),
		nudge:     make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the background rollup loop
func (w *Worker) Start() {
	go w.run()
	w.logger.Info().
		Dur("interval", w.config.Interval).
		Msg("Rollup worker started")
}

// Stop stops the rollup loop and waits for the current pass to finish
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.done
	w.logger.Info().Msg("Rollup worker stopped")
}

// Nudge requests a pass as soon as possible. It never blocks.
func (w *Worker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopChan
		cancel()
	}()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-w.nudge:
		case <-w.stopChan:
			return
		}

		if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Rollup pass failed")
		}
	}
}

// ProcessPending rolls up one batch of finalized intervals and returns how
// many were added to buckets. Intervals that still fail after the retry
// budget stay pending for the next pass.
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	ids, err := w.store.Stats().Pending(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending rollups: %w", err)
	}
	metrics.RollupPending.Set(float64(len(ids)))

	if len(ids) == 0 {
		return 0, nil
	}

	sessions := make(map[string]*storage.Session)
	applied := 0
	failed := 0

	for _, id := range ids {
		var added bool
		err := w.retry(ctx, func() error {
			var err error
			added, err = w.rollup(ctx, id, sessions)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			failed++
			metrics.RollupFailures.Inc()
			w.logger.Error().Err(err).Str("interval_id", id).Msg("Rollup failed, leaving interval pending")
			continue
		}
		if added {
			applied++
			metrics.RollupsApplied.Inc()
		}
	}

	w.logger.Debug().
		Int("pending", len(ids)).
		Int("applied", applied).
		Int("failed", failed).
		Msg("Rollup pass complete")

	return applied, nil
}

// rollup applies a single interval. sessions caches lookups for the pass.
func (w *Worker) rollup(ctx context.Context, id string, sessions map[string]*storage.Session) (bool, error) {
	iv, err := w.store.Intervals().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn().Str("interval_id", id).Msg("Pending interval no longer exists")
		return false, w.store.Stats().Skip(ctx, id)
	}
	if err != nil {
		return false, err
	}

	if !iv.Status.Terminal() {
		return false, fmt.Errorf("interval %s is %s, not finalized", id, iv.Status)
	}

	// Abandoned before it ever ran
	if iv.StartedAt == nil {
		return false, w.store.Stats().Skip(ctx, id)
	}

	loc, err := w.sessionLocation(ctx, iv, sessions)
	if err != nil {
		return false, err
	}

	keys := BucketKeysFor(*iv.StartedAt, loc)
	added, err := w.store.Stats().Apply(ctx, *iv, keys)
	if err != nil {
		return false, err
	}

	if added {
		w.logger.Debug().
			Str("interval_id", id).
			Str("user_id", iv.UserID).
			Str("day", keys.Day).
			Int64("duration", iv.Duration).
			Msg("Interval rolled up")
	}

	return added, nil
}

func (w *Worker) sessionLocation(ctx context.Context, iv *interval.Interval, sessions map[string]*storage.Session) (*time.Location, error) {
	session, ok := sessions[iv.SessionID]
	if !ok {
		var err error
		session, err = w.store.Sessions().Get(ctx, iv.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", iv.SessionID, err)
		}
		sessions[iv.SessionID] = session
	}

	loc, err := w.locations.Load(session.Timezone)
	if err != nil {
		w.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Falling back to UTC")
		return time.UTC, nil
	}
	return loc, nil
}

// Rebuild recomputes every bucket of userID from its terminal intervals.
func (w *Worker) Rebuild(ctx context.Context, userID string) error {
	err := w.retry(ctx, func() error {
		return w.store.Stats().Rebuild(ctx, userID, func(ctx context.Context) ([]storage.StatBucket, []string, error) {
			return w.replayUser(ctx, userID)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild stats for %s: %w", userID, err)
	}

	w.logger.Info().Str("user_id", userID).Msg("Stats rebuilt")
	return nil
}

func (w *Worker) replayUser(ctx context.Context, userID string) ([]storage.StatBucket, []string, error) {
	sessionIDs, err := w.store.Sessions().ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	locations := make(map[string]*time.Location, len(sessionIDs))
	var intervals []interval.Interval

	for _, sessionID := range sessionIDs {
		session, err := w.store.Sessions().Get(ctx, sessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}

		loc, err := w.locations.Load(session.Timezone)
		if err != nil {
			loc = time.UTC
		}
		locations[sessionID] = loc

		ids, err := w.store.Sessions().IntervalIDs(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		ivs, err := w.store.Intervals().GetMany(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		intervals = append(intervals, ivs...)
	}

	buckets, ids := Replay(userID, intervals, func(sessionID string) *time.Location {
		if loc, ok := locations[sessionID]; ok {
			return loc
		}
		return time.UTC
	})
	return buckets, ids, nil
}

// retry runs fn until it succeeds, doubling the delay between attempts.
func (w *Worker) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < w.config.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == w.config.MaxAttempts-1 {
			break
		}

		delay := w.config.RetryBackoff * time.Duration(1<<attempt)
		w.logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", w.config.MaxAttempts, err)
}
