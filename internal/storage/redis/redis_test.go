package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/studytrack/internal/config"
	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port is left at zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

var testEpoch = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func createTestSession(t *testing.T, store *Store, id, userID string) {
	t.Helper()

	session := storage.Session{
		ID:        id,
		UserID:    userID,
		Timezone:  "UTC",
		CreatedAt: testEpoch,
	}
	if err := store.Sessions().Create(context.Background(), session); err != nil {
		t.Fatalf("Create session failed: %v", err)
	}
}

func newTestInterval(id, sessionID, userID string, order int) interval.Interval {
	return interval.Interval{
		ID:         id,
		SessionID:  sessionID,
		UserID:     userID,
		Type:       interval.TypeStudy,
		OrderIndex: order,
		Status:     interval.StatusPending,
		CreatedAt:  testEpoch,
	}
}

// appendFinished appends an interval and drives it straight to COMPLETED.
func appendFinished(t *testing.T, store *Store, iv interval.Interval, expectedCount int, previousID string, seconds int64) interval.Interval {
	t.Helper()
	ctx := context.Background()

	if err := store.Intervals().Append(ctx, iv, expectedCount, previousID); err != nil {
		t.Fatalf("Append %s failed: %v", iv.ID, err)
	}

	started := testEpoch
	ended := started.Add(time.Duration(seconds) * time.Second)
	iv.Status = interval.StatusCompleted
	iv.StartedAt = &started
	iv.PingedAt = &ended
	iv.EndedAt = &ended
	iv.AccruedMillis = seconds * 1000
	iv.Duration = seconds

	if err := store.Intervals().Update(ctx, iv, 1); err != nil {
		t.Fatalf("Update %s failed: %v", iv.ID, err)
	}
	iv.Version = 2
	return iv
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	session, err := store.Sessions().Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if session.UserID != "user-1" {
		t.Errorf("Expected user_id=user-1, got %s", session.UserID)
	}
	if session.Timezone != "UTC" {
		t.Errorf("Expected timezone=UTC, got %s", session.Timezone)
	}
	if !session.CreatedAt.Equal(testEpoch) {
		t.Errorf("Expected created_at=%v, got %v", testEpoch, session.CreatedAt)
	}
	if session.Closed || session.ClosedAt != nil {
		t.Error("Expected new session to be open")
	}

	ids, err := store.Sessions().ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "session-1" {
		t.Errorf("Expected [session-1], got %v", ids)
	}

	if _, err := store.Sessions().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_MarkClosed(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	closedAt := testEpoch.Add(time.Hour)
	changed, err := store.Sessions().MarkClosed(ctx, "session-1", closedAt, true)
	if err != nil {
		t.Fatalf("MarkClosed failed: %v", err)
	}
	if !changed {
		t.Error("Expected first close to report a change")
	}

	changed, err = store.Sessions().MarkClosed(ctx, "session-1", closedAt.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("Second MarkClosed failed: %v", err)
	}
	if changed {
		t.Error("Expected second close to be a no-op")
	}

	session, err := store.Sessions().Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !session.Closed || !session.Cancelled {
		t.Errorf("Expected closed and cancelled session, got closed=%v cancelled=%v", session.Closed, session.Cancelled)
	}
	if session.ClosedAt == nil || !session.ClosedAt.Equal(closedAt) {
		t.Errorf("Expected closed_at=%v, got %v", closedAt, session.ClosedAt)
	}

	if _, err := store.Sessions().MarkClosed(ctx, "missing", closedAt, false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIntervalStore_AppendAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	iv := newTestInterval("iv-1", "session-1", "user-1", 0)
	if err := store.Intervals().Append(ctx, iv, 0, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.Intervals().Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != interval.StatusPending {
		t.Errorf("Expected status PENDING, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("Expected version 1, got %d", got.Version)
	}
	if got.StartedAt != nil || got.EndedAt != nil || got.PingedAt != nil {
		t.Error("Expected unset timestamps on a pending interval")
	}

	session, err := store.Sessions().Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if session.IntervalCount != 1 {
		t.Errorf("Expected interval_count=1, got %d", session.IntervalCount)
	}

	ids, err := store.Sessions().IntervalIDs(ctx, "session-1")
	if err != nil {
		t.Fatalf("IntervalIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "iv-1" {
		t.Errorf("Expected [iv-1], got %v", ids)
	}
}

func TestIntervalStore_AppendPreconditions(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	first := newTestInterval("iv-1", "session-1", "user-1", 0)
	if err := store.Intervals().Append(ctx, first, 0, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name          string
		iv            interval.Interval
		expectedCount int
		previousID    string
		wantErr       error
	}{
		{
			name:          "stale count",
			iv:            newTestInterval("iv-2", "session-1", "user-1", 0),
			expectedCount: 0,
			previousID:    "",
			wantErr:       storage.ErrConflict,
		},
		{
			name:          "wrong previous",
			iv:            newTestInterval("iv-2", "session-1", "user-1", 1),
			expectedCount: 1,
			previousID:    "iv-x",
			wantErr:       storage.ErrConflict,
		},
		{
			name:          "previous not finalized",
			iv:            newTestInterval("iv-2", "session-1", "user-1", 1),
			expectedCount: 1,
			previousID:    "iv-1",
			wantErr:       interval.ErrPrecedingIntervalNotFinalized,
		},
		{
			name:          "missing session",
			iv:            newTestInterval("iv-2", "session-x", "user-1", 0),
			expectedCount: 0,
			previousID:    "",
			wantErr:       storage.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Intervals().Append(ctx, tt.iv, tt.expectedCount, tt.previousID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if _, err := store.Intervals().Get(ctx, tt.iv.ID); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("Expected rejected interval to be absent, got %v", err)
			}
		})
	}
}

func TestIntervalStore_AppendClosedSession(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	if _, err := store.Sessions().MarkClosed(ctx, "session-1", testEpoch, false); err != nil {
		t.Fatalf("MarkClosed failed: %v", err)
	}

	err := store.Intervals().Append(ctx, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "")
	if !errors.Is(err, storage.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestIntervalStore_AppendAfterFinalized(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 60)

	if err := store.Intervals().Append(ctx, newTestInterval("iv-2", "session-1", "user-1", 1), 1, "iv-1"); err != nil {
		t.Fatalf("Append after finalized interval failed: %v", err)
	}

	ids, err := store.Sessions().IntervalIDs(ctx, "session-1")
	if err != nil {
		t.Fatalf("IntervalIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "iv-1" || ids[1] != "iv-2" {
		t.Errorf("Expected [iv-1 iv-2], got %v", ids)
	}
}

func TestIntervalStore_UpdateCompareAndSet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	iv := newTestInterval("iv-1", "session-1", "user-1", 0)
	if err := store.Intervals().Append(ctx, iv, 0, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	started := testEpoch.Add(time.Minute)
	running := iv
	running.Status = interval.StatusRunning
	running.StartedAt = &started
	running.PingedAt = &started
	running.RunningSince = &started

	if err := store.Intervals().Update(ctx, running, 1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if ok, _ := mr.SIsMember(liveSetKey, "iv-1"); !ok {
		t.Error("Expected running interval in live set")
	}

	// A second writer holding the old version loses
	if err := store.Intervals().Update(ctx, running, 1); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict for stale version, got %v", err)
	}

	got, err := store.Intervals().Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Expected version 2, got %d", got.Version)
	}
	if got.RunningSince == nil || !got.RunningSince.Equal(started) {
		t.Errorf("Expected running_since=%v, got %v", started, got.RunningSince)
	}

	live, err := store.Intervals().ListLive(ctx)
	if err != nil {
		t.Fatalf("ListLive failed: %v", err)
	}
	if len(live) != 1 || live[0].ID != "iv-1" {
		t.Errorf("Expected live [iv-1], got %v", live)
	}

	if err := store.Intervals().Update(ctx, newTestInterval("missing", "session-1", "user-1", 0), 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIntervalStore_UpdateFinalizes(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	done := appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 150)

	if ok, _ := mr.SIsMember(liveSetKey, "iv-1"); ok {
		t.Error("Expected finalized interval to leave the live set")
	}
	if ok, _ := mr.SIsMember(pendingSetKey, "iv-1"); !ok {
		t.Error("Expected finalized interval in the pending rollup set")
	}

	got, err := store.Intervals().Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Duration != 150 {
		t.Errorf("Expected duration 150, got %d", got.Duration)
	}

	// Terminal intervals are immutable even with the current version
	done.Status = interval.StatusAbandoned
	if err := store.Intervals().Update(ctx, done, done.Version); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict on finalized interval, got %v", err)
	}

	got, err = store.Intervals().Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != interval.StatusCompleted {
		t.Errorf("Expected status COMPLETED, got %s", got.Status)
	}
}

func TestIntervalStore_GetManyPreservesOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	appendFinished(t, store, newTestInterval("iv-b", "session-1", "user-1", 0), 0, "", 10)
	appendFinished(t, store, newTestInterval("iv-a", "session-1", "user-1", 1), 1, "iv-b", 20)

	intervals, err := store.Intervals().GetMany(ctx, []string{"iv-b", "missing", "iv-a"})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("Expected 2 intervals, got %d", len(intervals))
	}
	if intervals[0].ID != "iv-b" || intervals[1].ID != "iv-a" {
		t.Errorf("Expected order [iv-b iv-a], got [%s %s]", intervals[0].ID, intervals[1].ID)
	}
}

func TestStatsStore_ApplyOnce(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")
	iv := appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 150)

	pending, err := store.Stats().Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0] != "iv-1" {
		t.Fatalf("Expected pending [iv-1], got %v", pending)
	}

	keys := storage.BucketKeys{Day: "2024-03-10", Month: "2024-03", Year: "2024"}

	applied, err := store.Stats().Apply(ctx, iv, keys)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !applied {
		t.Error("Expected first Apply to add the interval")
	}

	applied, err = store.Stats().Apply(ctx, iv, keys)
	if err != nil {
		t.Fatalf("Second Apply failed: %v", err)
	}
	if applied {
		t.Error("Expected second Apply to be a no-op")
	}

	if ok, _ := mr.SIsMember(pendingSetKey, "iv-1"); ok {
		t.Error("Expected interval to leave the pending set")
	}

	for _, g := range storage.Granularities {
		bucket, err := store.Stats().Get(ctx, "user-1", g, keys.Period(g))
		if err != nil {
			t.Fatalf("Get %s failed: %v", g, err)
		}
		if bucket.TotalSeconds != 150 {
			t.Errorf("Expected %s total_seconds=150, got %d", g, bucket.TotalSeconds)
		}
		if bucket.IntervalCount != 1 {
			t.Errorf("Expected %s interval_count=1, got %d", g, bucket.IntervalCount)
		}
		if bucket.ByType[interval.TypeStudy].Seconds != 150 {
			t.Errorf("Expected %s STUDY seconds=150, got %d", g, bucket.ByType[interval.TypeStudy].Seconds)
		}
	}
}

func TestStatsStore_ApplyRejectsLive(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	iv := newTestInterval("iv-1", "session-1", "user-1", 0)
	if err := store.Intervals().Append(ctx, iv, 0, ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	keys := storage.BucketKeys{Day: "2024-03-10", Month: "2024-03", Year: "2024"}
	if _, err := store.Stats().Apply(ctx, iv, keys); err == nil {
		t.Error("Expected error applying a pending interval")
	}

	if _, err := store.Stats().Get(ctx, "user-1", storage.Daily, "2024-03-10"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no bucket, got %v", err)
	}
}

func TestStatsStore_Skip(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")
	appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 0)

	if err := store.Stats().Skip(ctx, "iv-1"); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	pending, err := store.Stats().Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending intervals, got %v", pending)
	}

	got, err := store.Intervals().Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.RolledUp {
		t.Error("Expected skipped interval to be marked rolled up")
	}
}

func TestStatsStore_PendingBoundedByLimit(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	backlog := []string{"iv-1", "iv-2", "iv-3", "iv-4", "iv-5"}
	if _, err := mr.SAdd(pendingSetKey, backlog...); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}

	tests := []struct {
		name  string
		limit int64
		want  int
	}{
		{"batch smaller than backlog", 2, 2},
		{"batch larger than backlog", 10, 5},
		{"no limit", 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := store.Stats().Pending(ctx, tt.limit)
			if err != nil {
				t.Fatalf("Pending failed: %v", err)
			}
			if len(pending) != tt.want {
				t.Fatalf("Expected %d pending IDs, got %v", tt.want, pending)
			}

			seen := make(map[string]bool)
			for _, id := range pending {
				if seen[id] {
					t.Errorf("Expected distinct IDs, got %s twice", id)
				}
				seen[id] = true
				if ok, _ := mr.SIsMember(pendingSetKey, id); !ok {
					t.Errorf("Expected %s to come from the pending set", id)
				}
			}
		})
	}
}

func TestStatsStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	first := appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 30)
	second := appendFinished(t, store, newTestInterval("iv-2", "session-1", "user-1", 1), 1, "iv-1", 45)

	if _, err := store.Stats().Apply(ctx, second, storage.BucketKeys{Day: "2024-03-11", Month: "2024-03", Year: "2024"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := store.Stats().Apply(ctx, first, storage.BucketKeys{Day: "2024-03-10", Month: "2024-03", Year: "2024"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	daily, err := store.Stats().List(ctx, "user-1", storage.Daily)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("Expected 2 daily buckets, got %d", len(daily))
	}
	if daily[0].Period != "2024-03-10" || daily[1].Period != "2024-03-11" {
		t.Errorf("Expected periods in order, got %s, %s", daily[0].Period, daily[1].Period)
	}

	monthly, err := store.Stats().List(ctx, "user-1", storage.Monthly)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(monthly) != 1 || monthly[0].TotalSeconds != 75 {
		t.Errorf("Expected one monthly bucket of 75s, got %+v", monthly)
	}

	other, err := store.Stats().List(ctx, "user-2", storage.Daily)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no buckets for another user, got %d", len(other))
	}
}

func TestStatsStore_Rebuild(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	first := appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 30)
	appendFinished(t, store, newTestInterval("iv-2", "session-1", "user-1", 1), 1, "iv-1", 45)

	// A stray bucket that the replay no longer produces
	if _, err := store.Stats().Apply(ctx, first, storage.BucketKeys{Day: "2023-01-01", Month: "2023-01", Year: "2023"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	daily := storage.NewStatBucket("user-1", storage.Daily, "2024-03-10")
	daily.TotalSeconds = 75
	daily.IntervalCount = 2
	daily.ByType[interval.TypeStudy] = storage.TypeTotals{Seconds: 75, Count: 2}

	replayed := false
	err := store.Stats().Rebuild(ctx, "user-1", func(ctx context.Context) ([]storage.StatBucket, []string, error) {
		replayed = true
		return []storage.StatBucket{daily}, []string{"iv-1", "iv-2"}, nil
	})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !replayed {
		t.Error("Expected replay to run")
	}

	if _, err := store.Stats().Get(ctx, "user-1", storage.Yearly, "2023"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected stale bucket to be removed, got %v", err)
	}

	bucket, err := store.Stats().Get(ctx, "user-1", storage.Daily, "2024-03-10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if bucket.TotalSeconds != 75 || bucket.ByType[interval.TypeStudy].Count != 2 {
		t.Errorf("Expected rebuilt bucket 75s/2 intervals, got %+v", bucket)
	}

	if ok, _ := mr.SIsMember(pendingSetKey, "iv-2"); ok {
		t.Error("Expected replayed interval to leave the pending set")
	}
	got, err := store.Intervals().Get(ctx, "iv-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.RolledUp {
		t.Error("Expected replayed interval to be marked rolled up")
	}
}

func TestStatsStore_RebuildConflict(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	createTestSession(t, store, "session-1", "user-1")

	first := appendFinished(t, store, newTestInterval("iv-1", "session-1", "user-1", 0), 0, "", 30)
	second := appendFinished(t, store, newTestInterval("iv-2", "session-1", "user-1", 1), 1, "iv-1", 45)

	keys := storage.BucketKeys{Day: "2024-03-10", Month: "2024-03", Year: "2024"}
	if _, err := store.Stats().Apply(ctx, first, keys); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// A rollup landing while the replay runs invalidates it
	err := store.Stats().Rebuild(ctx, "user-1", func(ctx context.Context) ([]storage.StatBucket, []string, error) {
		if _, err := store.Stats().Apply(ctx, second, keys); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	bucket, err := store.Stats().Get(ctx, "user-1", storage.Daily, "2024-03-10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if bucket.TotalSeconds != 75 {
		t.Errorf("Expected concurrent rollup to survive with 75s, got %d", bucket.TotalSeconds)
	}
}
