package interval

import "time"

// accrue closes the open RUNNING segment at the given instant.
func (iv *Interval) accrue(at time.Time) {
	if iv.RunningSince == nil {
		return
	}
	iv.AccruedMillis += segmentMillis(*iv.RunningSince, at)
	iv.RunningSince = nil
}

// finalize freezes the accumulated time into Duration, floored to whole seconds.
func (iv *Interval) finalize(at time.Time) {
	iv.accrue(at)
	iv.Duration = iv.AccruedMillis / 1000
	iv.EndedAt = timePtr(at)
}

// ActiveSeconds is the active time observed so far. For terminal intervals it
// is the stored Duration; for live ones it is provisional and never persisted.
func (iv Interval) ActiveSeconds(now time.Time) int64 {
	if iv.Status.Terminal() {
		return iv.Duration
	}
	ms := iv.AccruedMillis
	if iv.RunningSince != nil {
		ms += segmentMillis(*iv.RunningSince, now)
	}
	return ms / 1000
}

func segmentMillis(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
