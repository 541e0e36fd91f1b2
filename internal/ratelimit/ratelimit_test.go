package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

func TestRateWindowAdmitsUpToLimit(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	w := NewRateWindow(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.Equal(t, time.Duration(0), w.WaitTime(now))
		w.Record(now)
	}

	// Full: the wait is until the oldest event leaves the window.
	assert.Equal(t, time.Second, w.WaitTime(now))
	assert.Equal(t, 600*time.Millisecond, w.WaitTime(now.Add(400*time.Millisecond)))

	// Once the oldest expires the window admits again.
	assert.Equal(t, time.Duration(0), w.WaitTime(now.Add(1100*time.Millisecond)))
}

func TestRateWindowUtilization(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	w := NewRateWindow(4, time.Minute)

	w.Record(now)
	w.Record(now)

	assert.InDelta(t, 0.5, w.Utilization(now), 1e-9)
	assert.InDelta(t, 0, w.Utilization(now.Add(2*time.Minute)), 1e-9)
}

func TestEndpointLimiterWaitsOutSlowestWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := utils.NewFakeClock(start)

	// Margin 1 keeps the declared limits exact for the test.
	el := NewEndpointLimiter("test", []WindowLimit{
		{2, time.Second},
		{3, time.Minute},
	}, 1, clock)

	ctx := context.Background()

	require.NoError(t, el.Acquire(ctx))
	require.NoError(t, el.Acquire(ctx))

	// Third call: per-second window is full, waits 1s.
	require.NoError(t, el.Acquire(ctx))
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps())

	// Fourth call: the minute window is now the binding one.
	require.NoError(t, el.Acquire(ctx))

	sleeps := clock.Sleeps()
	assert.Equal(t, 59*time.Second, sleeps[len(sleeps)-1])
}

func TestEndpointLimiterAppliesSafetyMargin(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := utils.NewFakeClock(start)

	// 10 per second at margin 0.9 admits only 9 before waiting.
	el := NewEndpointLimiter("test", []WindowLimit{{10, time.Second}}, 0.9, clock)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, el.Acquire(ctx))
	}

	assert.Empty(t, clock.Sleeps())

	require.NoError(t, el.Acquire(ctx))
	assert.Len(t, clock.Sleeps(), 1)
}

func TestEndpointLimiterHonorsCancellation(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := utils.NewFakeClock(start)

	el := NewEndpointLimiter("test", []WindowLimit{{1, time.Minute}}, 1, clock)

	require.NoError(t, el.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := el.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiterAdmitsUnknownEndpoint(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	l := NewLimiter(DefaultConfig(), clock, logger.NewNopLogger())

	assert.NoError(t, l.Acquire(context.Background(), "no-such-endpoint"))
}

func TestLimiterStats(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	l := NewLimiter(DefaultConfig(), clock, logger.NewNopLogger())

	require.NoError(t, l.Acquire(context.Background(), EndpointBalance))

	stats := l.Stats()
	assert.Len(t, stats, len(endpointLimits))
	assert.Contains(t, stats, "balance: 100%")
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))

	opened := 0
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock, logger.NewNopLogger(), func(int) {
		opened++
	})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.NoError(t, b.Allow())
	}

	b.RecordFailure()

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBreakerOpen))
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, 1, opened)
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock, logger.NewNopLogger(), nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	require.Error(t, b.Allow())

	clock.Advance(61 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.NoError(t, b.Allow())

	// First success of a trial call closes the breaker fully.
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock, logger.NewNopLogger(), nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	clock.Advance(61 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock, logger.NewNopLogger(), nil)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}

	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}
