// Package signal implements the two-tier signal machine: a higher-timeframe
// bias detector that arms a direction, and a lower-timeframe entry detector
// that must confirm it within a bounded search window.
package signal

import (
	"fmt"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// biasMinBars covers the candle-color majority (3 bars) plus the MACD
// histogram trailing average (3 prior bars).
const biasMinBars = 4

// BiasDetector derives the higher-timeframe directional bias from closed
// 15-minute bars and their features.
type BiasDetector struct {
	cfg Config
}

// NewBiasDetector creates a bias detector with the given thresholds.
func NewBiasDetector(cfg Config) *BiasDetector {
	return &BiasDetector{cfg: cfg}
}

// Detect evaluates the last closed bar against three tiers (structure,
// confirmations, momentum) plus a candle-color majority. It returns the
// detected direction and a short trace for diagnostics; failing any tier
// returns BiasNone.
func (d *BiasDetector) Detect(bars []types.Bar, feats []types.FeatureSnapshot) (types.BiasDirection, string) {
	if len(bars) < biasMinBars || len(feats) != len(bars) {
		return types.BiasNone, fmt.Sprintf("insufficient data: %d bars", len(bars))
	}

	for _, direction := range []types.BiasDirection{types.BiasBull, types.BiasBear} {
		if ok, trace := d.detectDirection(bars, feats, direction); ok {
			return direction, trace
		}
	}

	return types.BiasNone, "no tier agreement"
}

func (d *BiasDetector) detectDirection(bars []types.Bar, feats []types.FeatureSnapshot, direction types.BiasDirection) (bool, string) {
	i := len(bars) - 1
	bar := bars[i]
	feat := feats[i]
	bull := direction == types.BiasBull

	// Tier (a): structural trend, close against the long EMA.
	if bull && bar.Close <= feat.EMA50 {
		return false, "close below EMA50"
	}

	if !bull && bar.Close >= feat.EMA50 {
		return false, "close above EMA50"
	}

	// Tier (b): at least 2 of 3 confirmations.
	confirms := 0

	if (bull && bar.Close > feat.VWAP) || (!bull && bar.Close < feat.VWAP) {
		confirms++
	}

	if feat.SuperTrendUp == bull {
		confirms++
	}

	if macdClearAndStrengthening(feats, i, bull, d.cfg.MACDMinHist) {
		confirms++
	}

	if confirms < 2 {
		return false, fmt.Sprintf("only %d/3 confirmations", confirms)
	}

	// Tier (c): momentum, RSI beyond the midline band.
	if bull && feat.RSI <= d.cfg.RSIBullMin {
		return false, fmt.Sprintf("RSI %.1f below bull floor", feat.RSI)
	}

	if !bull && feat.RSI >= d.cfg.RSIBearMax {
		return false, fmt.Sprintf("RSI %.1f above bear ceiling", feat.RSI)
	}

	// Candle-color majority: 2 of the last 3, and the most recent.
	if !candleMajority(bars, bull) {
		return false, "candle color majority failed"
	}

	return true, fmt.Sprintf("%s bias: %d/3 confirmations, RSI %.1f", direction, confirms, feat.RSI)
}

// macdClearAndStrengthening reports whether the histogram at index i is
// clearly signed for the direction (magnitude above the threshold) and moving
// further from zero versus the average of its three predecessors. Merely
// positive or negative is not enough.
func macdClearAndStrengthening(feats []types.FeatureSnapshot, i int, bull bool, minHist float64) bool {
	hist := feats[i].MACDHist

	if bull && hist <= 0 {
		return false
	}

	if !bull && hist >= 0 {
		return false
	}

	mag := abs(hist)
	if mag < minHist {
		return false
	}

	if i < 3 {
		return false
	}

	recent := (abs(feats[i-1].MACDHist) + abs(feats[i-2].MACDHist) + abs(feats[i-3].MACDHist)) / 3

	return mag > recent
}

// candleMajority checks that at least 2 of the last 3 bars, including the
// most recent, are colored with the direction.
func candleMajority(bars []types.Bar, bull bool) bool {
	i := len(bars) - 1

	matches := func(b types.Bar) bool {
		if bull {
			return b.IsBullish()
		}

		return b.IsBearish()
	}

	if !matches(bars[i]) {
		return false
	}

	count := 0

	for j := i; j > i-3; j-- {
		if matches(bars[j]) {
			count++
		}
	}

	return count >= 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
