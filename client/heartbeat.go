package client

import (
	"context"
	"time"
)

// DefaultPingInterval is how often Heartbeat pings a live interval.
const DefaultPingInterval = 10 * time.Second

// Reasons that end a heartbeat loop.
const (
	ReasonNotLive          = "NOT_LIVE"
	ReasonAlreadyFinalized = "ALREADY_FINALIZED"
)

// Heartbeat pings intervalID every interval (DefaultPingInterval when zero)
// until the interval stops being live or ctx is done. Failed pings are
// logged and retried on the next tick; only the server saying the interval
// is finished ends the loop, in which case Heartbeat returns nil.
func (c *Client) Heartbeat(ctx context.Context, intervalID string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		iv, err := c.Ping(ctx, intervalID)
		switch {
		case HasReason(err, ReasonNotLive), HasReason(err, ReasonAlreadyFinalized):
			c.logger.Info().Str("interval_id", intervalID).Msg("Interval no longer live, stopping heartbeat")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Str("interval_id", intervalID).Msg("Heartbeat failed")
		default:
			c.logger.Debug().
				Str("interval_id", intervalID).
				Str("status", iv.Status).
				Int64("active_seconds", iv.ActiveSeconds).
				Msg("Heartbeat sent")
		}
	}
}
