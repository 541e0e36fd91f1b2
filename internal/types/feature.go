package types

import "time"

// FeatureSnapshot is the opaque per-bar indicator vector attached 1:1 to a
// closed Bar. It is produced by the indicator engine and never mutated by
// consumers; the signal layer treats the values as given and applies only
// threshold comparisons.
type FeatureSnapshot struct {
	// BarCloseTime identifies the closed bar this snapshot belongs to.
	BarCloseTime time.Time `json:"bar_close_time"`

	EMA9  float64 `json:"ema9"`
	EMA21 float64 `json:"ema21"`
	EMA50 float64 `json:"ema50"`
	SMA20 float64 `json:"sma20"`
	// VWAP is anchored at the start of the retained series (session anchor
	// when history is loaded at the open).
	VWAP       float64 `json:"vwap"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	RSI        float64 `json:"rsi"`
	OBV        float64 `json:"obv"`
	ATR        float64 `json:"atr"`
	// VolumeMA is the 20-bar simple average of volume, used by the entry
	// detector's volume confirmation.
	VolumeMA float64 `json:"volume_ma"`
	// SuperTrendUp is the trend-follower flag: true when price is above the
	// SuperTrend line.
	SuperTrendUp bool `json:"super_trend_up"`
}
