package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a compare-and-set precondition no longer holds.
	ErrConflict = errors.New("storage: concurrent modification")

	// ErrSessionClosed is returned when appending to a closed session.
	ErrSessionClosed = errors.New("storage: session closed")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Intervals() IntervalStore
	Stats() StatsStore
}

// SessionStore manages study sessions.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// MarkClosed closes the session. Closing an already closed session is a no-op
	// and reports false.
	MarkClosed(ctx context.Context, id string, closedAt time.Time, cancelled bool) (bool, error)
	IntervalIDs(ctx context.Context, id string) ([]string, error)
	ListByUser(ctx context.Context, userID string) ([]string, error)
}

// IntervalStore manages intervals. Every write is a compare-and-set on Version.
type IntervalStore interface {
	// Append stores a new interval at the end of its session. It fails with
	// ErrConflict if the session no longer has expectedCount intervals, with
	// interval.ErrPrecedingIntervalNotFinalized if previousID is not terminal,
	// and with ErrSessionClosed if the session was closed.
	Append(ctx context.Context, iv interval.Interval, expectedCount int, previousID string) error
	Get(ctx context.Context, id string) (*interval.Interval, error)
	GetMany(ctx context.Context, ids []string) ([]interval.Interval, error)
	// Update replaces the interval if its stored version equals expectedVersion.
	// Finalized intervals are queued for rollup in the same atomic step.
	Update(ctx context.Context, iv interval.Interval, expectedVersion int64) error
	ListLive(ctx context.Context) ([]interval.Interval, error)
}

// StatsStore manages rollup buckets and the pending-rollup queue.
type StatsStore interface {
	Pending(ctx context.Context, limit int64) ([]string, error)
	// Apply adds a finalized interval to its three buckets unless it was
	// already rolled up. It reports whether anything was added.
	Apply(ctx context.Context, iv interval.Interval, keys BucketKeys) (bool, error)
	// Skip marks an interval rolled up without contributing to any bucket.
	Skip(ctx context.Context, id string) error
	Get(ctx context.Context, userID string, granularity Granularity, period string) (*StatBucket, error)
	List(ctx context.Context, userID string, granularity Granularity) ([]StatBucket, error)
	// Rebuild recomputes all of the user's buckets. replay runs after the
	// user's stats are watched, and its result replaces the stored buckets in
	// one transaction. If a concurrent rollup touches the user's stats the
	// transaction is aborted with ErrConflict.
	Rebuild(ctx context.Context, userID string, replay ReplayFunc) error
}

// ReplayFunc recomputes buckets from source intervals. It returns the new
// buckets and the IDs of every interval that was folded into them.
type ReplayFunc func(ctx context.Context) ([]StatBucket, []string, error)
