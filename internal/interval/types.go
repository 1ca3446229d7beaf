// Package interval implements the study interval state machine and its
// duration accumulator. Nothing here touches storage.
package interval

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an interval.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether no further transition may apply.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Live reports whether the interval is RUNNING or PAUSED.
func (s Status) Live() bool {
	return s == StatusRunning || s == StatusPaused
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// Type classifies an interval.
type Type string

const (
	TypeStudy Type = "STUDY"
	TypeBreak Type = "BREAK"
)

// Types lists every interval type in display order.
var Types = []Type{TypeStudy, TypeBreak}

// ParseType normalizes s to a known Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeStudy, TypeBreak:
		return t, nil
	default:
		return "", fmt.Errorf("invalid interval type: %q (must be STUDY or BREAK)", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to normalize the type to uppercase.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Op is an operation requested against an interval.
type Op string

const (
	OpStart    Op = "start"
	OpPause    Op = "pause"
	OpResume   Op = "resume"
	OpPing     Op = "ping"
	OpComplete Op = "complete"
	OpAbandon  Op = "abandon"
)

// Interval is a single timed segment of a study session.
//
// StartedAt, EndedAt and PingedAt are nil until first set. RunningSince and
// AccruedMillis hold the accumulator state; Duration is only written when the
// interval reaches a terminal state.
type Interval struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	Type       Type       `json:"type"`
	OrderIndex int        `json:"order_index"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	PingedAt   *time.Time `json:"pinged_at,omitempty"`
	Duration   int64      `json:"duration"`

	RunningSince  *time.Time `json:"-"`
	AccruedMillis int64      `json:"-"`
	Version       int64      `json:"-"`
	RolledUp      bool       `json:"-"`
}
