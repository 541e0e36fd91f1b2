package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

func makeBars(closes []float64) []types.Bar {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))

	for i, c := range closes {
		open := c - 0.5
		bars[i] = types.Bar{
			OpenTime:  start.Add(time.Duration(i) * time.Minute),
			CloseTime: start.Add(time.Duration(i+1) * time.Minute),
			Open:      open,
			High:      c + 1,
			Low:       open - 1,
			Close:     c,
			Volume:    1000 + float64(i),
		}
	}

	return bars
}

func trendingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}

	return out
}

func TestComputeRejectsTooFewBars(t *testing.T) {
	engine := NewBuiltinEngine()

	_, err := engine.Compute(makeBars([]float64{100}))
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientDataError(err))
}

func TestComputeAlignment(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars(trendingCloses(60, 100, 0.5))

	snaps, err := engine.Compute(bars)
	require.NoError(t, err)
	require.Len(t, snaps, len(bars))

	for i := range bars {
		assert.Equal(t, bars[i].CloseTime, snaps[i].BarCloseTime)
	}
}

func TestComputeIsPure(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars(trendingCloses(40, 200, -0.25))

	first, err := engine.Compute(bars)
	require.NoError(t, err)

	second, err := engine.Compute(bars)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUptrendFeatures(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars(trendingCloses(80, 100, 1))

	snaps, err := engine.Compute(bars)
	require.NoError(t, err)

	last := snaps[len(snaps)-1]

	// In a steady uptrend the fast EMA leads the slow, RSI saturates high,
	// price sits above VWAP, and the MACD histogram is positive.
	assert.Greater(t, last.EMA9, last.EMA21)
	assert.Greater(t, last.EMA21, last.EMA50)
	assert.Greater(t, last.RSI, 70.0)
	assert.Greater(t, bars[len(bars)-1].Close, last.VWAP)
	assert.Positive(t, last.MACDHist)
	assert.True(t, last.SuperTrendUp)
	assert.Positive(t, last.ATR)
}

func TestDowntrendFeatures(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars(trendingCloses(80, 200, -1))

	snaps, err := engine.Compute(bars)
	require.NoError(t, err)

	last := snaps[len(snaps)-1]
	assert.Less(t, last.EMA9, last.EMA50)
	assert.Less(t, last.RSI, 30.0)
	assert.Negative(t, last.MACDHist)
}

func TestRSIBounds(t *testing.T) {
	closes := trendingCloses(100, 100, 0)
	for i := range closes {
		// Alternate up/down to keep RSI near the midline
		if i%2 == 0 {
			closes[i] += 0.5
		}
	}

	vals := rsi(closes, rsiPeriod)
	for _, v := range vals {
		assert.True(t, v >= 0 && v <= 100, "rsi out of bounds: %f", v)
	}
}

func TestVWAPIsVolumeWeighted(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars([]float64{100, 100, 100, 100})

	snaps, err := engine.Compute(bars)
	require.NoError(t, err)

	// All typical prices equal, so VWAP must equal the shared typical price.
	typical := (bars[0].High + bars[0].Low + bars[0].Close) / 3
	assert.False(t, math.IsNaN(snaps[3].VWAP))
	assert.InDelta(t, typical, snaps[3].VWAP, 1e-9)
}

func TestOBVAccumulates(t *testing.T) {
	engine := NewBuiltinEngine()
	bars := makeBars([]float64{100, 101, 102, 101})

	snaps, err := engine.Compute(bars)
	require.NoError(t, err)

	// +vol(101) +vol(102) -vol(101 after 102)
	expected := bars[1].Volume + bars[2].Volume - bars[3].Volume
	assert.InDelta(t, expected, snaps[3].OBV, 1e-9)
}
