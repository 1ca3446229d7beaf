package redis

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type statsStore struct {
	client *redis.Client
}

// Pending returns up to limit distinct interval IDs awaiting rollup. A
// positive limit samples the set so a pass never reads the whole backlog.
func (s *statsStore) Pending(ctx context.Context, limit int64) ([]string, error) {
	var (
		ids []string
		err error
	)
	if limit > 0 {
		ids, err = s.client.SRandMemberN(ctx, pendingSetKey, limit).Result()
	} else {
		ids, err = s.client.SMembers(ctx, pendingSetKey).Result()
	}
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// Apply adds a finalized interval to its daily, monthly and yearly buckets
func (s *statsStore) Apply(ctx context.Context, iv interval.Interval, keys storage.BucketKeys) (bool, error) {
	script := redis.NewScript(applyRollupScript)

	redisKeys := []string{intervalKey(iv.ID), pendingSetKey, statsIndexKey(iv.UserID)}
	args := []interface{}{iv.ID}
	for _, g := range storage.Granularities {
		redisKeys = append(redisKeys, bucketKey(iv.UserID, g, keys.Period(g)))
		args = append(args, string(g))
	}
	for _, g := range storage.Granularities {
		args = append(args, keys.Period(g))
	}

	result, err := script.Run(ctx, s.client, redisKeys, args...).Text()
	if err != nil {
		return false, err
	}

	switch result {
	case resultOK:
		return true, nil
	case resultAlready:
		return false, nil
	default:
		return false, scriptError(result)
	}
}

// Skip marks an interval rolled up without contributing to any bucket
func (s *statsStore) Skip(ctx context.Context, id string) error {
	script := redis.NewScript(skipRollupScript)

	keys := []string{intervalKey(id), pendingSetKey}
	return script.Run(ctx, s.client, keys, id).Err()
}

// Get retrieves a single bucket
func (s *statsStore) Get(ctx context.Context, userID string, granularity storage.Granularity, period string) (*storage.StatBucket, error) {
	data, err := s.client.HGetAll(ctx, bucketKey(userID, granularity, period)).Result()
	if err != nil {
		return nil, err
	}

	return parseStatBucket(data)
}

// List returns the user's buckets of one granularity ordered by period
func (s *statsStore) List(ctx context.Context, userID string, granularity storage.Granularity) ([]storage.StatBucket, error) {
	members, err := s.client.SMembers(ctx, statsIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	prefix := bucketKey(userID, granularity, "")
	keys := make([]string, 0, len(members))
	for _, key := range members {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return []storage.StatBucket{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	buckets := make([]storage.StatBucket, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		bucket, err := parseStatBucket(data)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *bucket)
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Period < buckets[j].Period
	})

	return buckets, nil
}

// Rebuild replaces the user's buckets with the output of replay. The index and
// every existing bucket are watched before replay reads its source data, so a
// rollup that lands in between aborts the transaction.
func (s *statsStore) Rebuild(ctx context.Context, userID string, replay storage.ReplayFunc) error {
	indexKey := statsIndexKey(userID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.SMembers(ctx, indexKey).Result()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if err := tx.Watch(ctx, existing...).Err(); err != nil {
				return err
			}
		}

		buckets, intervalIDs, err := replay(ctx)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(existing) > 0 {
				pipe.Del(ctx, existing...)
			}
			pipe.Del(ctx, indexKey)

			for _, b := range buckets {
				key := bucketKey(userID, b.Granularity, b.Period)
				pipe.HSet(ctx, key, bucketFields(b)...)
				pipe.SAdd(ctx, indexKey, key)
			}

			for _, id := range intervalIDs {
				pipe.HSet(ctx, intervalKey(id), "rolled_up", "1")
				pipe.SRem(ctx, pendingSetKey, id)
			}
			return nil
		})
		return err
	}, indexKey)

	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrConflict
	}
	return err
}
