package interval

import "errors"

var (
	// ErrInvalidTransition is returned when the operation is not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyFinalized is returned for any transition on a COMPLETED or ABANDONED interval.
	ErrAlreadyFinalized = errors.New("interval already finalized")

	// ErrNotLive is returned when ping, pause or resume targets an interval that is not live.
	ErrNotLive = errors.New("interval not live")

	// ErrPrecedingIntervalNotFinalized is returned when an interval is created or started
	// while an earlier interval of the same session is still open.
	ErrPrecedingIntervalNotFinalized = errors.New("preceding interval not finalized")

	// ErrOwnershipViolation is returned when the caller does not own the session.
	ErrOwnershipViolation = errors.New("caller does not own session")
)
