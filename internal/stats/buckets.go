package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/studytrack/internal/storage"
)

// ErrInvalidPeriod is returned for a malformed period string.
var ErrInvalidPeriod = errors.New("invalid period")

// Period layouts per granularity.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
	YearLayout  = "2006"
)

func layout(g storage.Granularity) string {
	switch g {
	case storage.Monthly:
		return MonthLayout
	case storage.Yearly:
		return YearLayout
	default:
		return DayLayout
	}
}

// BucketKeysFor attributes an instant to its local day, month and year.
func BucketKeysFor(t time.Time, loc *time.Location) storage.BucketKeys {
	local := t.In(loc)
	return storage.BucketKeys{
		Day:   local.Format(DayLayout),
		Month: local.Format(MonthLayout),
		Year:  local.Format(YearLayout),
	}
}

// CurrentPeriod returns the period containing now in loc.
func CurrentPeriod(g storage.Granularity, now time.Time, loc *time.Location) string {
	return now.In(loc).Format(layout(g))
}

// ValidatePeriod checks that period is well formed for g.
func ValidatePeriod(g storage.Granularity, period string) error {
	l := layout(g)
	t, err := time.Parse(l, period)
	if err != nil || t.Format(l) != period {
		return fmt.Errorf("%w: %s period %q (expected %s)", ErrInvalidPeriod, g, period, l)
	}
	return nil
}
