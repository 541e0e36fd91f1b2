// Package risk enforces the account-level exposure limits: per-position cap,
// total allocation cap, and the daily loss cutoff. Every trade proposal must
// pass the gate before any order is placed.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Limits are the configured exposure caps, each a fraction of the daily
// start balance.
type Limits struct {
	// MaxAllocPct caps the sum of all open position costs, default 0.70.
	MaxAllocPct float64
	// MaxPositionPct caps a single position's cost, default 0.70.
	MaxPositionPct float64
	// MaxDailyLossPct stops trading once the day's realized loss reaches
	// this fraction, default 0.05.
	MaxDailyLossPct float64
}

// DefaultLimits returns the production risk caps.
func DefaultLimits() Limits {
	return Limits{
		MaxAllocPct:     0.70,
		MaxPositionPct:  0.70,
		MaxDailyLossPct: 0.05,
	}
}

// Snapshot is a point-in-time view of the gate for reports.
type Snapshot struct {
	Date          string                     `json:"date"`
	StartBalance  decimal.Decimal            `json:"start_balance"`
	OpenPositions map[string]decimal.Decimal `json:"open_positions"`
	DailyPnL      decimal.Decimal            `json:"daily_pnl"`
	TotalTrades   int                        `json:"total_trades"`
}

// Gate tracks open exposure against the balance captured at session start.
// The start balance includes capital locked in open positions, so limits stay
// stable across the day regardless of fills. Broker positions remain ground
// truth: workers reconcile and call ForceRelease when the broker no longer
// shows a position.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	logger *logger.Logger

	date          string
	startBalance  decimal.Decimal
	openPositions map[string]decimal.Decimal
	dailyPnL      decimal.Decimal
	totalTrades   int
}

// NewGate creates a gate with the given limits.
func NewGate(limits Limits, log *logger.Logger) *Gate {
	return &Gate{
		limits:        limits,
		logger:        log,
		openPositions: make(map[string]decimal.Decimal),
	}
}

// CaptureStartBalance pins the day's reference balance. The first capture per
// trading date wins; repeat calls on the same date are ignored so a mid-day
// restart cannot shrink the limits after a loss.
func (g *Gate) CaptureStartBalance(balance decimal.Decimal, date time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := date.Format("2006-01-02")
	if g.date == day {
		return
	}

	g.date = day
	g.startBalance = balance
	g.dailyPnL = decimal.Zero
	g.totalTrades = 0

	g.logger.Info("daily start balance captured",
		zap.String("date", day),
		zap.String("balance", balance.String()),
	)
}

// CanOpen reports whether a new position of the given cost may be opened.
// Denials carry a coded error naming the violated limit.
func (g *Gate) CanOpen(instrument string, cost decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.openPositions[instrument]; exists {
		return errors.Newf(errors.ErrCodePositionExists,
			"position already open for %s", instrument)
	}

	if cost.LessThanOrEqual(decimal.Zero) {
		return errors.Newf(errors.ErrCodeRiskDenied,
			"non-positive position cost %s", cost)
	}

	if g.startBalance.LessThanOrEqual(decimal.Zero) {
		return errors.New(errors.ErrCodeRiskDenied,
			"daily start balance not captured")
	}

	maxPosition := g.startBalance.Mul(decimal.NewFromFloat(g.limits.MaxPositionPct))
	if cost.GreaterThan(maxPosition) {
		return errors.Newf(errors.ErrCodeAllocationLimit,
			"cost %s exceeds per-position limit %s", cost, maxPosition)
	}

	// The cutoff is on the magnitude of the day's P&L swing, not just losses:
	// an outsized profit also stops trading for the day.
	maxLoss := g.startBalance.Mul(decimal.NewFromFloat(g.limits.MaxDailyLossPct))
	if g.dailyPnL.Abs().GreaterThanOrEqual(maxLoss) {
		return errors.Newf(errors.ErrCodeDailyLossLimit,
			"daily pnl swing %s reached limit %s", g.dailyPnL.Abs(), maxLoss)
	}

	maxAlloc := g.startBalance.Mul(decimal.NewFromFloat(g.limits.MaxAllocPct))
	if cost.GreaterThan(maxAlloc.Sub(g.openExposureLocked())) {
		return errors.Newf(errors.ErrCodeAllocationLimit,
			"cost %s exceeds remaining allocation %s", cost, maxAlloc.Sub(g.openExposureLocked()))
	}

	return nil
}

// RegisterOpen records an opened position's cost. It fails on a duplicate so
// a double-registration bug surfaces instead of silently doubling exposure.
func (g *Gate) RegisterOpen(instrument string, cost decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.openPositions[instrument]; exists {
		return errors.Newf(errors.ErrCodePositionExists,
			"position already registered for %s", instrument)
	}

	g.openPositions[instrument] = cost

	return nil
}

// RegisterClose releases the position and accumulates the trade's realized
// P&L into the daily total. It returns the trade P&L.
func (g *Gate) RegisterClose(instrument string, exitValue decimal.Decimal) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cost, exists := g.openPositions[instrument]
	if !exists {
		return decimal.Zero, errors.Newf(errors.ErrCodeRiskDenied,
			"no open position registered for %s", instrument)
	}

	delete(g.openPositions, instrument)

	pnl := exitValue.Sub(cost)
	g.dailyPnL = g.dailyPnL.Add(pnl)
	g.totalTrades++

	g.logger.Info("position closed",
		zap.String("symbol", instrument),
		zap.String("pnl", pnl.String()),
		zap.String("daily_pnl", g.dailyPnL.String()),
	)

	return pnl, nil
}

// ForceRelease drops the tracked position without touching P&L. Used by the
// reconcile loop when the broker no longer shows the position.
func (g *Gate) ForceRelease(instrument string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.openPositions[instrument]; exists {
		delete(g.openPositions, instrument)

		g.logger.Warn("position force-released after broker reconcile",
			zap.String("symbol", instrument),
		)
	}
}

// ResetDaily clears the day's counters ahead of the next session.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.date = ""
	g.startBalance = decimal.Zero
	g.dailyPnL = decimal.Zero
	g.totalTrades = 0
	g.openPositions = make(map[string]decimal.Decimal)
}

// Snapshot returns a copy of the gate state for reports.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	open := make(map[string]decimal.Decimal, len(g.openPositions))
	for k, v := range g.openPositions {
		open[k] = v
	}

	return Snapshot{
		Date:          g.date,
		StartBalance:  g.startBalance,
		OpenPositions: open,
		DailyPnL:      g.dailyPnL,
		TotalTrades:   g.totalTrades,
	}
}

// HasOpen reports whether the gate tracks an open position for instrument.
func (g *Gate) HasOpen(instrument string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, exists := g.openPositions[instrument]

	return exists
}

func (g *Gate) openExposureLocked() decimal.Decimal {
	total := decimal.Zero

	for _, cost := range g.openPositions {
		total = total.Add(cost)
	}

	return total
}
