package redis

import (
	"context"
	"sort"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/redis/go-redis/v9"
)

type intervalStore struct {
	client *redis.Client
}

// Append atomically adds a new interval at the end of its session
func (s *intervalStore) Append(ctx context.Context, iv interval.Interval, expectedCount int, previousID string) error {
	script := redis.NewScript(appendIntervalScript)

	previousKey := intervalKey(iv.ID)
	if previousID != "" {
		previousKey = intervalKey(previousID)
	}

	keys := []string{
		sessionKey(iv.SessionID),
		sessionIntervalsKey(iv.SessionID),
		intervalKey(iv.ID),
		previousKey,
	}
	args := append([]interface{}{iv.ID, expectedCount, previousID}, intervalFields(iv)...)

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return err
	}

	return scriptError(result)
}

// Get retrieves an interval by ID
func (s *intervalStore) Get(ctx context.Context, id string) (*interval.Interval, error) {
	data, err := s.client.HGetAll(ctx, intervalKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseInterval(data)
}

// GetMany retrieves intervals in the order of ids, skipping any that are missing
func (s *intervalStore) GetMany(ctx context.Context, ids []string) ([]interval.Interval, error) {
	if len(ids) == 0 {
		return []interval.Interval{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, intervalKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	intervals := make([]interval.Interval, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		iv, err := parseInterval(data)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, *iv)
	}

	return intervals, nil
}

// Update writes iv if the stored version still equals expectedVersion
func (s *intervalStore) Update(ctx context.Context, iv interval.Interval, expectedVersion int64) error {
	script := redis.NewScript(updateIntervalScript)

	keys := []string{intervalKey(iv.ID), liveSetKey, pendingSetKey}
	args := append([]interface{}{
		iv.ID,
		expectedVersion,
		boolString(iv.Status.Live()),
		boolString(iv.Status.Terminal()),
	}, intervalFields(iv)...)

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return err
	}

	return scriptError(result)
}

// ListLive returns every RUNNING or PAUSED interval
func (s *intervalStore) ListLive(ctx context.Context) ([]interval.Interval, error) {
	ids, err := s.client.SMembers(ctx, liveSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	intervals, err := s.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The live set may briefly lag a finalization
	live := intervals[:0]
	for _, iv := range intervals {
		if iv.Status.Live() {
			live = append(live, iv)
		}
	}
	return live, nil
}
