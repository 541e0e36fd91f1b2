package signal

import "time"

// Config carries every signal threshold. The numeric defaults mirror the
// production tuning but none of them is load-bearing beyond "clearly signed
// and strengthening"; treat them as configuration.
type Config struct {
	// RearmWindow suppresses repeat arms per instrument.
	RearmWindow time.Duration
	// MaxEntryChecks bounds the 5-minute entry search after arming.
	MaxEntryChecks int
	// MACDMinHist is the minimum histogram magnitude that counts as
	// clearly signed.
	MACDMinHist float64
	// RSIBullMin / RSIBearMax bound the bias momentum tier.
	RSIBullMin float64
	RSIBearMax float64
	// RSI entry bands avoid both no-momentum and exhaustion zones.
	RSIEntryBullMin float64
	RSIEntryBullMax float64
	RSIEntryBearMin float64
	RSIEntryBearMax float64
	// VolumeFactor multiplies the trailing volume average.
	VolumeFactor float64
	// EMACrossWindow is how many trailing bars may contain the 9/21 cross.
	EMACrossWindow int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RearmWindow:     15 * time.Minute,
		MaxEntryChecks:  6,
		MACDMinHist:     0.05,
		RSIBullMin:      55,
		RSIBearMax:      45,
		RSIEntryBullMin: 50,
		RSIEntryBullMax: 80,
		RSIEntryBearMin: 20,
		RSIEntryBearMax: 50,
		VolumeFactor:    1.2,
		EMACrossWindow:  3,
	}
}
