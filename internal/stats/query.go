package stats

import (
	"context"
	"errors"

	"github.com/goodtune/studytrack/internal/storage"
)

// Lookup returns the bucket for period, or an empty bucket when nothing has
// been rolled up into it yet.
func Lookup(ctx context.Context, store storage.StatsStore, userID string, g storage.Granularity, period string) (storage.StatBucket, error) {
	if err := ValidatePeriod(g, period); err != nil {
		return storage.StatBucket{}, err
	}

	bucket, err := store.Get(ctx, userID, g, period)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.NewStatBucket(userID, g, period), nil
	}
	if err != nil {
		return storage.StatBucket{}, err
	}
	return *bucket, nil
}
