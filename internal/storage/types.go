package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/studytrack/internal/interval"
)

// Session is an ordered container of intervals owned by one user.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Timezone      string     `json:"timezone"`
	CreatedAt     time.Time  `json:"created_at"`
	IntervalCount int        `json:"interval_count"`
	Closed        bool       `json:"closed"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Cancelled     bool       `json:"cancelled"`
}

// Granularity is the width of a stats bucket.
type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// Granularities lists every bucket width, finest first.
var Granularities = []Granularity{Daily, Monthly, Yearly}

// ParseGranularity validates s.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(s))
	switch g {
	case Daily, Monthly, Yearly:
		return g, nil
	default:
		return "", fmt.Errorf("invalid granularity: %s (must be daily, monthly, or yearly)", s)
	}
}

// BucketKeys names the day, month and year an interval is attributed to.
type BucketKeys struct {
	Day   string
	Month string
	Year  string
}

// Period returns the key for granularity g.
func (k BucketKeys) Period(g Granularity) string {
	switch g {
	case Monthly:
		return k.Month
	case Yearly:
		return k.Year
	default:
		return k.Day
	}
}

// TypeTotals holds the active seconds and interval count of one interval type.
type TypeTotals struct {
	Seconds int64 `json:"seconds"`
	Count   int64 `json:"count"`
}

// StatBucket aggregates finalized intervals for one user and period.
type StatBucket struct {
	UserID        string                       `json:"user_id"`
	Granularity   Granularity                  `json:"granularity"`
	Period        string                       `json:"period"`
	TotalSeconds  int64                        `json:"total_seconds"`
	IntervalCount int64                        `json:"interval_count"`
	ByType        map[interval.Type]TypeTotals `json:"by_type"`
}

// NewStatBucket returns an empty bucket.
func NewStatBucket(userID string, g Granularity, period string) StatBucket {
	return StatBucket{
		UserID:      userID,
		Granularity: g,
		Period:      period,
		ByType:      make(map[interval.Type]TypeTotals),
	}
}

// Add folds a finalized interval into the bucket.
func (b *StatBucket) Add(iv interval.Interval) {
	if b.ByType == nil {
		b.ByType = make(map[interval.Type]TypeTotals)
	}
	b.TotalSeconds += iv.Duration
	b.IntervalCount++
	tt := b.ByType[iv.Type]
	tt.Seconds += iv.Duration
	tt.Count++
	b.ByType[iv.Type] = tt
}
