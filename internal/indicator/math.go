package indicator

import "github.com/meridian-lab/meridian-trading/internal/types"

// ema returns the exponential moving average series. The first period-1
// values ramp from a simple-average seed, matching the usual charting
// convention.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	alpha := 2.0 / (float64(period) + 1.0)

	// Seed with the first value; short series stay usable for tests.
	prev := values[0]
	out[0] = prev

	for i := 1; i < len(values); i++ {
		prev = values[i]*alpha + prev*(1-alpha)
		out[i] = prev
	}

	return out
}

// sma returns the simple moving average ending at index i, or the average of
// everything so far when fewer than period values exist.
func sma(values []float64, i, period int) float64 {
	start := i - period + 1
	if start < 0 {
		start = 0
	}

	var sum float64
	for j := start; j <= i; j++ {
		sum += values[j]
	}

	return sum / float64(i-start+1)
}

func volumeSMA(bars []types.Bar, i, period int) float64 {
	start := i - period + 1
	if start < 0 {
		start = 0
	}

	var sum float64
	for j := start; j <= i; j++ {
		sum += bars[j].Volume
	}

	return sum / float64(i-start+1)
}

// macd returns the MACD line, signal line, and histogram series.
func macd(closes []float64) (line, signal, hist []float64) {
	fast := ema(closes, macdFastPeriod)
	slow := ema(closes, macdSlowPeriod)

	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}

	signal = ema(line, macdSignalSpan)

	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}

	return line, signal, hist
}

// rsi returns the Wilder-smoothed relative strength index. Values before the
// first full period are zero.
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) <= period {
		return out
	}

	var gain, loss float64

	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}

	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]

		var g, l float64
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}

		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs)
}

// atr returns the Wilder-smoothed average true range. Values before the first
// full period are zero.
func atr(bars []types.Bar, period int) []float64 {
	out := make([]float64, len(bars))
	if len(bars) <= period {
		return out
	}

	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low

	for i := 1; i < len(bars); i++ {
		tr[i] = trueRange(bars[i], bars[i-1].Close)
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}

	prev := sum / float64(period)
	out[period] = prev

	for i := period + 1; i < len(bars); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}

	return out
}

func trueRange(bar types.Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low

	hc := bar.High - prevClose
	if hc < 0 {
		hc = -hc
	}

	lc := bar.Low - prevClose
	if lc < 0 {
		lc = -lc
	}

	tr := hl
	if hc > tr {
		tr = hc
	}

	if lc > tr {
		tr = lc
	}

	return tr
}

// superTrend returns the up-flag series: true while price rides above the
// SuperTrend line. Uses a dedicated ATR at superTrendSpan so the flag does
// not depend on the shared ATR period.
func superTrend(bars []types.Bar, _ []float64) []bool {
	up := make([]bool, len(bars))
	if len(bars) == 0 {
		return up
	}

	stATR := atr(bars, superTrendSpan)

	var (
		finalUpper, finalLower float64
		inUptrend              = true
	)

	for i := range bars {
		if stATR[i] == 0 {
			up[i] = inUptrend
			continue
		}

		mid := (bars[i].High + bars[i].Low) / 2
		basicUpper := mid + superTrendMult*stATR[i]
		basicLower := mid - superTrendMult*stATR[i]

		if finalUpper == 0 || basicUpper < finalUpper || bars[i-1].Close > finalUpper {
			finalUpper = basicUpper
		}

		if finalLower == 0 || basicLower > finalLower || bars[i-1].Close < finalLower {
			finalLower = basicLower
		}

		if inUptrend && bars[i].Close < finalLower {
			inUptrend = false
		} else if !inUptrend && bars[i].Close > finalUpper {
			inUptrend = true
		}

		up[i] = inUptrend
	}

	return up
}
