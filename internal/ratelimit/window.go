// Package ratelimit implements client-side sliding-window rate limiting for
// broker endpoints plus a circuit breaker for consecutive call failures. Both
// sit in front of every gateway call so the process stays inside the broker's
// documented quotas even across bursts.
package ratelimit

import "time"

// RateWindow is one sliding window: at most limit events inside any span of
// the window duration. Timestamps are kept in arrival order, so the head is
// always the oldest in-window event.
type RateWindow struct {
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewRateWindow creates a window admitting limit events per window duration.
func NewRateWindow(limit int, window time.Duration) *RateWindow {
	return &RateWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// prune drops timestamps that have left the window as of now.
func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)

	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}

	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// WaitTime returns how long a caller must wait before the window admits
// another event: zero when below the limit, otherwise the time until the
// oldest in-window timestamp expires.
func (w *RateWindow) WaitTime(now time.Time) time.Duration {
	w.prune(now)

	if len(w.stamps) < w.limit {
		return 0
	}

	return w.stamps[0].Add(w.window).Sub(now)
}

// Record registers an admitted event at now.
func (w *RateWindow) Record(now time.Time) {
	w.prune(now)
	w.stamps = append(w.stamps, now)
}

// Utilization returns in-window events as a fraction of the limit.
func (w *RateWindow) Utilization(now time.Time) float64 {
	w.prune(now)

	if w.limit == 0 {
		return 0
	}

	return float64(len(w.stamps)) / float64(w.limit)
}
