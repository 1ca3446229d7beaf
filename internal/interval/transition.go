package interval

import (
	"fmt"
	"time"
)

// Transition validates op against the current status and returns the resulting
// status. It has no side effects and knows nothing about persistence.
func Transition(current Status, op Op) (Status, error) {
	if !current.Valid() {
		return "", fmt.Errorf("unknown status %q: %w", current, ErrInvalidTransition)
	}

	if current.Terminal() {
		if op == OpPing {
			return current, ErrNotLive
		}
		return current, ErrAlreadyFinalized
	}

	switch op {
	case OpStart:
		if current == StatusPending {
			return StatusRunning, nil
		}
	case OpPause:
		switch current {
		case StatusRunning:
			return StatusPaused, nil
		case StatusPending:
			return current, ErrNotLive
		}
	case OpResume:
		switch current {
		case StatusPaused:
			return StatusRunning, nil
		case StatusPending:
			return current, ErrNotLive
		}
	case OpPing:
		if current.Live() {
			return current, nil
		}
		return current, ErrNotLive
	case OpComplete:
		if current.Live() {
			return StatusCompleted, nil
		}
	case OpAbandon:
		return StatusAbandoned, nil
	default:
		return current, fmt.Errorf("unknown operation %q: %w", op, ErrInvalidTransition)
	}

	return current, fmt.Errorf("%s from %s: %w", op, current, ErrInvalidTransition)
}

// Apply runs op against iv at server time now and returns the updated record.
// The input is not modified. Abandonment ignores now and finalizes at the
// interval's last confirmed live timestamp.
func Apply(iv Interval, op Op, now time.Time) (Interval, error) {
	next, err := Transition(iv.Status, op)
	if err != nil {
		return iv, err
	}

	// pingedAt never moves backwards, even if the server clock does.
	if iv.PingedAt != nil && now.Before(*iv.PingedAt) {
		now = *iv.PingedAt
	}

	switch op {
	case OpStart:
		iv.StartedAt = timePtr(now)
		iv.PingedAt = timePtr(now)
		iv.RunningSince = timePtr(now)
	case OpPause:
		iv.accrue(now)
		iv.PingedAt = timePtr(now)
	case OpResume:
		iv.RunningSince = timePtr(now)
		iv.PingedAt = timePtr(now)
	case OpPing:
		iv.PingedAt = timePtr(now)
	case OpComplete:
		iv.finalize(now)
	case OpAbandon:
		iv.finalize(iv.LastLive())
	}

	iv.Status = next
	return iv, nil
}

// LastLive is the latest instant the interval is known to have been attended:
// the last ping, or the creation time if it never started.
func (iv Interval) LastLive() time.Time {
	if iv.PingedAt != nil {
		return *iv.PingedAt
	}
	return iv.CreatedAt
}

// Stale reports whether a live interval has gone longer than threshold without a ping.
func (iv Interval) Stale(now time.Time, threshold time.Duration) bool {
	if !iv.Status.Live() {
		return false
	}
	return now.Sub(iv.LastLive()) > threshold
}

func timePtr(t time.Time) *time.Time {
	return &t
}
