package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/metrics"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultSweepInterval is the sweeper cadence
	DefaultSweepInterval = 30 * time.Second

	// DefaultAbandonThreshold is how long a live interval may go without a ping
	DefaultAbandonThreshold = 90 * time.Second
)

// SweeperConfig holds liveness sweeper configuration
type SweeperConfig struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Sweeper abandons live intervals whose client has stopped pinging.
type Sweeper struct {
	tracker   *Tracker
	interval  time.Duration
	threshold time.Duration
	logger    zerolog.Logger
	stopChan  chan struct{}
	done      chan struct{}
}

// NewSweeper creates a liveness sweeper
func NewSweeper(tracker *Tracker, config SweeperConfig, logger zerolog.Logger) *Sweeper {
	if config.Interval == 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultAbandonThreshold
	}

	return &Sweeper{
		tracker:   tracker,
		interval:  config.Interval,
		threshold: config.Threshold,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("threshold", s.threshold).
		Msg("Liveness sweeper started")
}

// Stop stops the sweeper and waits for an in-flight sweep
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Liveness sweeper stopped")
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Sweep failed")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// SweepOnce scans the live intervals once and abandons the stale ones. It
// returns how many were abandoned.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	live, err := s.tracker.store.Intervals().ListLive(ctx)
	if err != nil {
		return 0, err
	}
	metrics.LiveIntervals.Set(float64(len(live)))

	now := s.tracker.clock.Now()
	abandoned := 0

	for _, snapshot := range live {
		ok, err := s.abandonIfStale(ctx, snapshot, now)
		if err != nil {
			s.logger.Error().Err(err).Str("interval_id", snapshot.ID).Msg("Failed to abandon stale interval")
			continue
		}
		if ok {
			abandoned++
		}
	}

	if abandoned > 0 {
		s.logger.Info().
			Int("live", len(live)).
			Int("abandoned", abandoned).
			Msg("Sweep abandoned stale intervals")
	}

	return abandoned, nil
}

// abandonIfStale abandons snapshot if it is stale at now, guarded by the
// version seen at scan time. Losing the race to a client write is not an
// error; the next sweep looks again.
func (s *Sweeper) abandonIfStale(ctx context.Context, snapshot interval.Interval, now time.Time) (bool, error) {
	if !snapshot.Stale(now, s.threshold) {
		return false, nil
	}

	next, err := interval.Apply(snapshot, interval.OpAbandon, now)
	if err != nil {
		if isSettled(err) {
			return false, nil
		}
		return false, err
	}

	err = s.tracker.store.Intervals().Update(ctx, next, snapshot.Version)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug().
			Str("interval_id", snapshot.ID).
			Msg("Interval changed since scan, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.tracker.outcome(interval.OpAbandon, nil)
	s.tracker.finalized(next, "sweep")

	s.logger.Info().
		Str("interval_id", snapshot.ID).
		Time("last_ping", snapshot.LastLive()).
		Dur("staleness", now.Sub(snapshot.LastLive())).
		Msg("Abandoned stale interval")

	return true, nil
}

// isSettled reports whether err means the interval is already terminal.
func isSettled(err error) bool {
	return errors.Is(err, interval.ErrAlreadyFinalized) || errors.Is(err, interval.ErrNotLive)
}
