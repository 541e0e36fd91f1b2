package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BiasDirection is the higher-timeframe trend judgment.
type BiasDirection string

const (
	BiasBull BiasDirection = "BULL"
	BiasBear BiasDirection = "BEAR"
	BiasNone BiasDirection = "NONE"
)

// Opposite returns the reverse direction; BiasNone maps to itself.
func (d BiasDirection) Opposite() BiasDirection {
	switch d {
	case BiasBull:
		return BiasBear
	case BiasBear:
		return BiasBull
	default:
		return BiasNone
	}
}

// BiasSnapshot records a successful bias detection: the direction, the time it
// was armed, and the close of the bar it was computed from. An armed bias is
// valid for the configured re-arm window.
type BiasSnapshot struct {
	Instrument string        `json:"instrument"`
	Direction  BiasDirection `json:"direction"`
	Time       time.Time     `json:"time"`
	BarClose   float64       `json:"bar_close"`
}

// EntrySignal is a confirmed lower-timeframe trigger to act on an armed bias.
// It is produced at most once per armed bias and consumed once by the order
// executor.
type EntrySignal struct {
	Instrument string          `json:"instrument"`
	Direction  BiasDirection   `json:"direction"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	// Reasons lists the confirmations that passed, for diagnostics and audit.
	Reasons []string `json:"reasons"`
}

// SignalState is the per-instrument state of the two-tier signal machine.
type SignalState string

const (
	SignalStateIdle        SignalState = "IDLE"
	SignalStateBiasArmed   SignalState = "BIAS_ARMED"
	SignalStateEntrySearch SignalState = "ENTRY_SEARCH"
	SignalStateEntered     SignalState = "ENTERED"
	SignalStateExpired     SignalState = "EXPIRED"
	SignalStateAborted     SignalState = "ABORTED"
)
