package signal

// RejectionReason names why an entry check failed. Reasons are stable
// identifiers used in logs, alerts, and the audit trail.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonInsufficientData      RejectionReason = "insufficient_data"
	ReasonBiasFlipped           RejectionReason = "bias_flipped"
	ReasonPriceBelowStructure   RejectionReason = "price_below_structure"
	ReasonPriceAboveStructure   RejectionReason = "price_above_structure"
	ReasonNoRecentEMACross      RejectionReason = "no_recent_ema_cross"
	ReasonLastCandleNotBullish  RejectionReason = "last_candle_not_bullish"
	ReasonLastCandleNotBearish  RejectionReason = "last_candle_not_bearish"
	ReasonMACDNotStrengthening  RejectionReason = "macd_not_strengthening"
	ReasonVolumeBelowAverage    RejectionReason = "volume_below_average"
	ReasonRSIOutOfBand          RejectionReason = "rsi_out_of_band"
	ReasonVWAPWrongSide         RejectionReason = "vwap_wrong_side"
	ReasonInsufficientConfirms  RejectionReason = "insufficient_confirmations"
	ReasonNoBreakout            RejectionReason = "no_breakout"
	ReasonPrevCandleOffStruct   RejectionReason = "prev_candle_off_structure"
	ReasonBelowMinPremium       RejectionReason = "below_min_premium"
)

// Confirmation names used in EntrySignal.Reasons and rejection details.
const (
	ConfirmVWAP   = "vwap_side"
	ConfirmMACD   = "macd_strengthening"
	ConfirmVolume = "volume_above_average"
	ConfirmRSI    = "rsi_in_band"
)
