// Package scheduler drives the daily trading session: it sleeps through
// nights, weekends and holidays, runs one session per trading day, and owns
// the per-instrument control loops inside that session.
package scheduler

import (
	"context"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
)

// minBoundaryBuffer is the floor on the post-boundary buffer, so a derived
// bar has certainly closed and propagated before the signal layer reads it.
const minBoundaryBuffer = 5 * time.Second

// NextBoundary returns the first candle boundary at the granularity strictly
// after now. A timestamp exactly on a boundary maps to the next one.
func NextBoundary(now time.Time, granularity types.Granularity) time.Time {
	interval := granularity.Duration()

	return now.Truncate(interval).Add(interval)
}

// SleepUntilBoundary sleeps until the next candle boundary plus buffer.
// Returns the boundary slept to, or ctx.Err() when cancelled mid-sleep.
func SleepUntilBoundary(ctx context.Context, clock utils.Clock, granularity types.Granularity, buffer time.Duration) (time.Time, error) {
	if buffer < minBoundaryBuffer {
		buffer = minBoundaryBuffer
	}

	now := clock.Now()
	boundary := NextBoundary(now, granularity)

	if err := clock.Sleep(ctx, boundary.Sub(now)+buffer); err != nil {
		return boundary, err
	}

	return boundary, nil
}
