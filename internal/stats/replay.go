package stats

import (
	"sort"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
)

// Replay folds terminal intervals into buckets from scratch. locate returns
// the time zone of an interval's session. The returned IDs are every
// terminal interval seen, including those without a start time, which are
// accounted for but contribute nothing.
func Replay(userID string, intervals []interval.Interval, locate func(sessionID string) *time.Location) ([]storage.StatBucket, []string) {
	type bucketID struct {
		g      storage.Granularity
		period string
	}

	buckets := make(map[bucketID]*storage.StatBucket)
	var ids []string

	for _, iv := range intervals {
		if !iv.Status.Terminal() || iv.UserID != userID {
			continue
		}
		ids = append(ids, iv.ID)
		if iv.StartedAt == nil {
			continue
		}

		keys := BucketKeysFor(*iv.StartedAt, locate(iv.SessionID))
		for _, g := range storage.Granularities {
			id := bucketID{g, keys.Period(g)}
			b, ok := buckets[id]
			if !ok {
				nb := storage.NewStatBucket(userID, g, id.period)
				b = &nb
				buckets[id] = b
			}
			b.Add(iv)
		}
	}

	out := make([]storage.StatBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Granularity != out[j].Granularity {
			return out[i].Granularity < out[j].Granularity
		}
		return out[i].Period < out[j].Period
	})

	return out, ids
}
