package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
)

const keyPrefix = "studytrack"

const (
	liveSetKey    = keyPrefix + ":intervals:live"
	pendingSetKey = keyPrefix + ":rollup:pending"
)

func sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

func sessionIntervalsKey(id string) string {
	return fmt.Sprintf("%s:session:%s:intervals", keyPrefix, id)
}

func userSessionsKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:sessions", keyPrefix, userID)
}

func intervalKey(id string) string {
	return fmt.Sprintf("%s:interval:%s", keyPrefix, id)
}

func statsIndexKey(userID string) string {
	return fmt.Sprintf("%s:stats:index:%s", keyPrefix, userID)
}

func bucketKey(userID string, g storage.Granularity, period string) string {
	return fmt.Sprintf("%s:stats:%s:%s:%s", keyPrefix, g, userID, period)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// intervalFields flattens the mutable state of an interval into hash
// field/value pairs. version and rolled_up are owned by the scripts.
func intervalFields(iv interval.Interval) []interface{} {
	return []interface{}{
		"id", iv.ID,
		"session_id", iv.SessionID,
		"user_id", iv.UserID,
		"type", string(iv.Type),
		"order_index", iv.OrderIndex,
		"status", string(iv.Status),
		"created_at", formatTime(iv.CreatedAt),
		"started_at", formatOptionalTime(iv.StartedAt),
		"ended_at", formatOptionalTime(iv.EndedAt),
		"pinged_at", formatOptionalTime(iv.PingedAt),
		"running_since", formatOptionalTime(iv.RunningSince),
		"accrued_ms", iv.AccruedMillis,
		"duration", iv.Duration,
	}
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	count, err := strconv.Atoi(data["interval_count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse interval_count: %w", err)
	}

	closedAt, err := parseOptionalTime(data["closed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse closed_at: %w", err)
	}

	return &storage.Session{
		ID:            data["id"],
		UserID:        data["user_id"],
		Timezone:      data["timezone"],
		CreatedAt:     createdAt,
		IntervalCount: count,
		Closed:        data["closed"] == "1",
		ClosedAt:      closedAt,
		Cancelled:     data["cancelled"] == "1",
	}, nil
}

// parseInterval converts a Redis hash to Interval
func parseInterval(data map[string]string) (*interval.Interval, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	iv := &interval.Interval{
		ID:        data["id"],
		SessionID: data["session_id"],
		UserID:    data["user_id"],
		Type:      interval.Type(data["type"]),
		Status:    interval.Status(data["status"]),
		CreatedAt: createdAt,
		RolledUp:  data["rolled_up"] == "1",
	}

	if iv.OrderIndex, err = strconv.Atoi(data["order_index"]); err != nil {
		return nil, fmt.Errorf("failed to parse order_index: %w", err)
	}
	if iv.AccruedMillis, err = strconv.ParseInt(data["accrued_ms"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse accrued_ms: %w", err)
	}
	if iv.Duration, err = strconv.ParseInt(data["duration"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}
	if iv.Version, err = strconv.ParseInt(data["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	times := []struct {
		field string
		dst   **time.Time
	}{
		{"started_at", &iv.StartedAt},
		{"ended_at", &iv.EndedAt},
		{"pinged_at", &iv.PingedAt},
		{"running_since", &iv.RunningSince},
	}
	for _, tf := range times {
		t, err := parseOptionalTime(data[tf.field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tf.field, err)
		}
		*tf.dst = t
	}

	return iv, nil
}

// parseStatBucket converts a Redis hash to StatBucket. Per-type totals are
// stored as "seconds:<TYPE>" and "count:<TYPE>" fields.
func parseStatBucket(data map[string]string) (*storage.StatBucket, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	bucket := storage.NewStatBucket(data["user_id"], storage.Granularity(data["granularity"]), data["period"])

	var err error
	if bucket.TotalSeconds, err = strconv.ParseInt(data["total_seconds"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse total_seconds: %w", err)
	}
	if bucket.IntervalCount, err = strconv.ParseInt(data["interval_count"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse interval_count: %w", err)
	}

	for field, value := range data {
		name, typ, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		tt := bucket.ByType[interval.Type(typ)]
		switch name {
		case "seconds":
			tt.Seconds = n
		case "count":
			tt.Count = n
		default:
			continue
		}
		bucket.ByType[interval.Type(typ)] = tt
	}

	return &bucket, nil
}

// bucketFields flattens a bucket into hash field/value pairs
func bucketFields(b storage.StatBucket) []interface{} {
	fields := []interface{}{
		"user_id", b.UserID,
		"granularity", string(b.Granularity),
		"period", b.Period,
		"total_seconds", b.TotalSeconds,
		"interval_count", b.IntervalCount,
	}
	for typ, tt := range b.ByType {
		fields = append(fields,
			"seconds:"+string(typ), tt.Seconds,
			"count:"+string(typ), tt.Count,
		)
	}
	return fields
}
