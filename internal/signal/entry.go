package signal

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Rejection is the outcome of one failed entry check.
type Rejection struct {
	Reason RejectionReason
	// Details carries check-specific context, e.g. which core confirmations
	// failed.
	Details string
}

// EntryDetector confirms an armed bias on closed 5-minute bars.
//
// The check order is deliberate: the cheap structural gates run first, then
// the core confirmation set (VWAP, MACD, volume, RSI) of which at least 3
// must hold, then the price-action checks. The first failed gate
// short-circuits with its named reason.
type EntryDetector struct {
	cfg Config
}

// NewEntryDetector creates an entry detector with the given thresholds.
func NewEntryDetector(cfg Config) *EntryDetector {
	return &EntryDetector{cfg: cfg}
}

// Detect runs one entry check for the armed direction against the latest
// closed 5-minute bar. On success it returns the EntrySignal (price = signal
// bar close) and a zero Rejection; on failure the signal is nil.
func (d *EntryDetector) Detect(instrument string, bars []types.Bar, feats []types.FeatureSnapshot, direction types.BiasDirection) (*types.EntrySignal, Rejection) {
	minBars := d.cfg.EMACrossWindow + 2
	if len(bars) < minBars || len(feats) != len(bars) {
		return nil, Rejection{Reason: ReasonInsufficientData}
	}

	i := len(bars) - 1
	bar := bars[i]
	feat := feats[i]
	bull := direction == types.BiasBull

	// Structural alignment: price against the short moving average.
	if bull && bar.Close <= feat.SMA20 {
		return nil, Rejection{Reason: ReasonPriceBelowStructure}
	}

	if !bull && bar.Close >= feat.SMA20 {
		return nil, Rejection{Reason: ReasonPriceAboveStructure}
	}

	// A fast/slow EMA cross must have occurred within the trailing window,
	// not necessarily on the current bar.
	if !d.recentEMACross(feats, bull) {
		return nil, Rejection{Reason: ReasonNoRecentEMACross}
	}

	// The signal bar's color must match the direction, regardless of the
	// other indicators.
	if bull && !bar.IsBullish() {
		return nil, Rejection{Reason: ReasonLastCandleNotBullish}
	}

	if !bull && !bar.IsBearish() {
		return nil, Rejection{Reason: ReasonLastCandleNotBearish}
	}

	// MACD must be clearly signed and strengthening versus the immediately
	// preceding bar.
	macdOK := d.macdStrengthening(feats, i, bull)
	if !macdOK {
		return nil, Rejection{Reason: ReasonMACDNotStrengthening}
	}

	// Core confirmation set: at least 3 of the 4 must hold. MACD already
	// passed above, so at most one of VWAP, volume, and RSI may fail.
	passed, failed := d.coreConfirmations(bar, feat, bull, macdOK)
	if len(passed) < 3 {
		return nil, Rejection{
			Reason:  ReasonInsufficientConfirms,
			Details: strings.Join(failed, ","),
		}
	}

	// Price action: breakout of the prior bar's range, or a directionally
	// colored body.
	if !breakout(bars, i, bull) {
		return nil, Rejection{Reason: ReasonNoBreakout}
	}

	// The previous bar must already have been on the correct side of
	// structure; a single bar poking through is not a trend.
	prevBar := bars[i-1]
	prevFeat := feats[i-1]

	if bull && prevBar.Close <= prevFeat.SMA20 {
		return nil, Rejection{Reason: ReasonPrevCandleOffStruct}
	}

	if !bull && prevBar.Close >= prevFeat.SMA20 {
		return nil, Rejection{Reason: ReasonPrevCandleOffStruct}
	}

	return &types.EntrySignal{
		Instrument: instrument,
		Direction:  direction,
		Price:      decimal.NewFromFloat(bar.Close),
		Time:       bar.CloseTime,
		Reasons:    passed,
	}, Rejection{Reason: ReasonNone}
}

// recentEMACross reports whether EMA9 crossed EMA21 in the bias direction
// within the trailing cross window.
func (d *EntryDetector) recentEMACross(feats []types.FeatureSnapshot, bull bool) bool {
	i := len(feats) - 1

	above := func(f types.FeatureSnapshot) bool {
		if bull {
			return f.EMA9 > f.EMA21
		}

		return f.EMA9 < f.EMA21
	}

	// The fast EMA must currently be on the right side.
	if !above(feats[i]) {
		return false
	}

	// And it must have been on the wrong side within the window.
	start := i - d.cfg.EMACrossWindow
	if start < 0 {
		start = 0
	}

	for j := start; j < i; j++ {
		if !above(feats[j]) {
			return true
		}
	}

	return false
}

// macdStrengthening requires the histogram clearly signed for the direction
// and larger in magnitude than the previous bar's.
func (d *EntryDetector) macdStrengthening(feats []types.FeatureSnapshot, i int, bull bool) bool {
	hist := feats[i].MACDHist

	if bull && hist <= 0 {
		return false
	}

	if !bull && hist >= 0 {
		return false
	}

	if abs(hist) < d.cfg.MACDMinHist {
		return false
	}

	return abs(hist) > abs(feats[i-1].MACDHist)
}

// coreConfirmations evaluates the four core checks and returns the names of
// those that passed and failed. The MACD verdict is computed by the caller so
// the tally reflects the same evaluation the hard gate used.
func (d *EntryDetector) coreConfirmations(bar types.Bar, feat types.FeatureSnapshot, bull, macdOK bool) (passed, failed []string) {
	record := func(passName, failName string, ok bool) {
		if ok {
			passed = append(passed, passName)
		} else {
			failed = append(failed, failName)
		}
	}

	vwapOK := bar.Close > feat.VWAP
	if !bull {
		vwapOK = bar.Close < feat.VWAP
	}

	record(ConfirmVWAP, string(ReasonVWAPWrongSide), vwapOK)
	record(ConfirmMACD, string(ReasonMACDNotStrengthening), macdOK)
	record(ConfirmVolume, string(ReasonVolumeBelowAverage),
		feat.VolumeMA > 0 && bar.Volume > d.cfg.VolumeFactor*feat.VolumeMA)

	rsiOK := feat.RSI >= d.cfg.RSIEntryBullMin && feat.RSI <= d.cfg.RSIEntryBullMax
	if !bull {
		rsiOK = feat.RSI >= d.cfg.RSIEntryBearMin && feat.RSI <= d.cfg.RSIEntryBearMax
	}

	record(ConfirmRSI, string(ReasonRSIOutOfBand), rsiOK)

	return passed, failed
}

// breakout requires the close beyond the prior bar's high/low, or a
// directionally colored body.
func breakout(bars []types.Bar, i int, bull bool) bool {
	bar := bars[i]
	prev := bars[i-1]

	if bull {
		return bar.Close > prev.High || bar.IsBullish()
	}

	return bar.Close < prev.Low || bar.IsBearish()
}
