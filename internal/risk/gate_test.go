package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

var testDate = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T, balance int64) *Gate {
	t.Helper()

	g := NewGate(DefaultLimits(), logger.NewNopLogger())
	g.CaptureStartBalance(decimal.NewFromInt(balance), testDate)

	return g
}

func TestGateAllowsWithinLimits(t *testing.T) {
	g := newTestGate(t, 10000)

	assert.NoError(t, g.CanOpen("TSLA", decimal.NewFromInt(5000)))
}

func TestGateDeniesDuplicatePosition(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(1000)))

	err := g.CanOpen("TSLA", decimal.NewFromInt(1000))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePositionExists))

	err = g.RegisterOpen("TSLA", decimal.NewFromInt(1000))
	assert.True(t, errors.HasCode(err, errors.ErrCodePositionExists))
}

func TestGateDeniesNonPositiveCost(t *testing.T) {
	g := newTestGate(t, 10000)

	err := g.CanOpen("TSLA", decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRiskDenied))
}

func TestGateDeniesWithoutStartBalance(t *testing.T) {
	g := NewGate(DefaultLimits(), logger.NewNopLogger())

	err := g.CanOpen("TSLA", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRiskDenied))
}

func TestGateDeniesOversizedPosition(t *testing.T) {
	g := newTestGate(t, 10000)

	// Per-position cap is 70% of the 10000 start balance.
	err := g.CanOpen("TSLA", decimal.NewFromInt(7001))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAllocationLimit))

	assert.NoError(t, g.CanOpen("TSLA", decimal.NewFromInt(7000)))
}

func TestGateDeniesBeyondTotalAllocation(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(4000)))

	// 4000 + 3500 breaches the 70% total allocation cap.
	err := g.CanOpen("NVDA", decimal.NewFromInt(3500))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAllocationLimit))

	assert.NoError(t, g.CanOpen("NVDA", decimal.NewFromInt(3000)))
}

func TestGateDeniesAfterDailyLossLimit(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(2000)))

	// Exit at 1500 books a 500 loss, which reaches the 5% daily cutoff.
	pnl, err := g.RegisterClose("TSLA", decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(-500)))

	err = g.CanOpen("NVDA", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDailyLossLimit))
}

func TestGateDeniesAfterDailyProfitSwing(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(2000)))

	// The cutoff is on |daily P&L|, so a +600 day trips the 5% limit too.
	pnl, err := g.RegisterClose("TSLA", decimal.NewFromInt(2600))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(600)))

	err = g.CanOpen("NVDA", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDailyLossLimit))
}

func TestGateAllowsWithSmallProfit(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(2000)))

	pnl, err := g.RegisterClose("TSLA", decimal.NewFromInt(2400))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(400)))

	assert.NoError(t, g.CanOpen("NVDA", decimal.NewFromInt(100)))
}

func TestGateForceRelease(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(4000)))
	require.True(t, g.HasOpen("TSLA"))

	g.ForceRelease("TSLA")

	assert.False(t, g.HasOpen("TSLA"))

	// Force release books no P&L and no trade.
	snap := g.Snapshot()
	assert.True(t, snap.DailyPnL.IsZero())
	assert.Equal(t, 0, snap.TotalTrades)
}

func TestGateCaptureIsIdempotentPerDate(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(2000)))
	_, err := g.RegisterClose("TSLA", decimal.NewFromInt(1500))
	require.NoError(t, err)

	// A restart re-captures the (now smaller) balance on the same date; the
	// original reference and the booked loss must survive.
	g.CaptureStartBalance(decimal.NewFromInt(9500), testDate)

	snap := g.Snapshot()
	assert.True(t, snap.StartBalance.Equal(decimal.NewFromInt(10000)))
	assert.True(t, snap.DailyPnL.Equal(decimal.NewFromInt(-500)))

	// The next trading date captures fresh.
	g.CaptureStartBalance(decimal.NewFromInt(9500), testDate.AddDate(0, 0, 1))

	snap = g.Snapshot()
	assert.True(t, snap.StartBalance.Equal(decimal.NewFromInt(9500)))
	assert.True(t, snap.DailyPnL.IsZero())
}

func TestGateResetDaily(t *testing.T) {
	g := newTestGate(t, 10000)

	require.NoError(t, g.RegisterOpen("TSLA", decimal.NewFromInt(2000)))

	g.ResetDaily()

	snap := g.Snapshot()
	assert.Empty(t, snap.Date)
	assert.Empty(t, snap.OpenPositions)
	assert.Equal(t, 0, snap.TotalTrades)
}
