// Package indicator computes the per-bar feature vector consumed by the
// signal layer. Consumers depend only on the Engine interface; the arithmetic
// here is an implementation detail and no consumer recomputes it.
package indicator

import (
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Engine computes a FeatureSnapshot per closed bar. Compute is a pure
// function of the bar history passed in: same bars, same snapshots.
type Engine interface {
	// Compute returns one snapshot per input bar, aligned by index. The
	// leading snapshots of a series are partially warmed (zero values)
	// until each indicator's period is satisfied.
	Compute(bars []types.Bar) ([]types.FeatureSnapshot, error)
}

const (
	emaFastPeriod  = 9
	emaMidPeriod   = 21
	emaSlowPeriod  = 50
	smaPeriod      = 20
	volumeMAPeriod = 20
	macdFastPeriod = 12
	macdSlowPeriod = 26
	macdSignalSpan = 9
	rsiPeriod      = 14
	atrPeriod      = 14
	superTrendSpan = 10
	superTrendMult = 3.0
	minComputeBars = 2
)

// BuiltinEngine is the default Engine implementation carrying the standard
// intraday indicator set: EMA 9/21/50, SMA20, anchored VWAP, MACD 12/26/9,
// Wilder RSI 14, OBV, ATR 14, and SuperTrend 10/3.
type BuiltinEngine struct{}

// NewBuiltinEngine creates the default indicator engine.
func NewBuiltinEngine() *BuiltinEngine {
	return &BuiltinEngine{}
}

// Compute implements Engine.
func (e *BuiltinEngine) Compute(bars []types.Bar) ([]types.FeatureSnapshot, error) {
	if len(bars) < minComputeBars {
		return nil, errors.NewInsufficientDataErrorf(minComputeBars, len(bars), "",
			"indicator engine needs at least %d bars, have %d", minComputeBars, len(bars))
	}

	n := len(bars)
	snaps := make([]types.FeatureSnapshot, n)

	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		snaps[i].BarCloseTime = b.CloseTime
	}

	ema9 := ema(closes, emaFastPeriod)
	ema21 := ema(closes, emaMidPeriod)
	ema50 := ema(closes, emaSlowPeriod)
	macdLine, macdSignal, macdHist := macd(closes)
	rsiVals := rsi(closes, rsiPeriod)
	atrVals := atr(bars, atrPeriod)
	stUp := superTrend(bars, atrVals)

	var (
		cumPV, cumVol float64
		obv           float64
	)

	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumVol += b.Volume

		if i > 0 {
			switch {
			case b.Close > bars[i-1].Close:
				obv += b.Volume
			case b.Close < bars[i-1].Close:
				obv -= b.Volume
			}
		}

		snaps[i].EMA9 = ema9[i]
		snaps[i].EMA21 = ema21[i]
		snaps[i].EMA50 = ema50[i]
		snaps[i].SMA20 = sma(closes, i, smaPeriod)
		snaps[i].VolumeMA = volumeSMA(bars, i, volumeMAPeriod)
		snaps[i].MACD = macdLine[i]
		snaps[i].MACDSignal = macdSignal[i]
		snaps[i].MACDHist = macdHist[i]
		snaps[i].RSI = rsiVals[i]
		snaps[i].OBV = obv
		snaps[i].ATR = atrVals[i]
		snaps[i].SuperTrendUp = stUp[i]

		if cumVol > 0 {
			snaps[i].VWAP = cumPV / cumVol
		}
	}

	return snaps, nil
}

// Ensure BuiltinEngine implements Engine.
var _ Engine = (*BuiltinEngine)(nil)
