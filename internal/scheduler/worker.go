package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/audit"
	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/execution"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/market"
	"github.com/meridian-lab/meridian-trading/internal/notify"
	"github.com/meridian-lab/meridian-trading/internal/risk"
	"github.com/meridian-lab/meridian-trading/internal/session"
	"github.com/meridian-lab/meridian-trading/internal/signal"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// WorkerConfig tunes one instrument's control loop.
type WorkerConfig struct {
	Instrument config.InstrumentConfig
	// MonitorInterval spaces open-position polls.
	MonitorInterval time.Duration
	// BoundaryBuffer pads candle-boundary sleeps.
	BoundaryBuffer time.Duration
	// ErrorRetry is the pause after a contained loop error.
	ErrorRetry time.Duration
	// ReconcileEveryPolls is how many monitor polls pass between broker
	// position reconciliations.
	ReconcileEveryPolls int
	// OneTradePerDay suppresses re-entry on an instrument already traded.
	OneTradePerDay bool
	// RecentBiasMax bounds how old a persisted bias may be and still resume
	// its entry search after a restart.
	RecentBiasMax time.Duration
}

// WorkerDeps are the collaborators one worker drives.
type WorkerDeps struct {
	Gateway    broker.Gateway
	Aggregator *market.Aggregator
	Machine    *signal.Machine
	Bias       *signal.BiasDetector
	Executor   *execution.Executor
	Risk       *risk.Gate
	State      *session.State
	Audit      audit.Recorder
	Sink       notify.Sink
	Clock      utils.Clock
	Logger     *logger.Logger
	// TradingEnabled gates new entries; open positions are monitored
	// regardless. Nil means always enabled.
	TradingEnabled func() bool
}

// openTrade is the worker's local view of the position it placed.
type openTrade struct {
	auditID   string
	direction types.BiasDirection
	stop      decimal.Decimal
	target    decimal.Decimal
	slOrder   string
	tgtOrder  string
}

// Worker runs the control loop for one instrument: monitor an open position,
// otherwise hunt for a bias arm and drive the entry search.
type Worker struct {
	cfg  WorkerConfig
	deps WorkerDeps

	symbol   string
	quantity decimal.Decimal
	tickSize decimal.Decimal

	trade *openTrade
}

// NewWorker builds a worker, parsing the instrument's decimal fields once.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) (*Worker, error) {
	quantity, err := decimal.NewFromString(cfg.Instrument.Quantity)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err,
			"invalid quantity for %s", cfg.Instrument.Symbol)
	}

	tickSize, err := decimal.NewFromString(cfg.Instrument.TickSize)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err,
			"invalid tick size for %s", cfg.Instrument.Symbol)
	}

	if deps.TradingEnabled == nil {
		deps.TradingEnabled = func() bool { return true }
	}

	return &Worker{
		cfg:      cfg,
		deps:     deps,
		symbol:   cfg.Instrument.Symbol,
		quantity: quantity,
		tickSize: tickSize,
	}, nil
}

// Symbol returns the instrument this worker trades.
func (w *Worker) Symbol() string {
	return w.symbol
}

// Run drives the loop until ctx is cancelled or the deadline passes. Every
// iteration error is contained: logged, then retried after a short pause.
func (w *Worker) Run(ctx context.Context, deadline time.Time) {
	w.recoverArmedBias()

	for {
		if ctx.Err() != nil || !w.deps.Clock.Now().Before(deadline) {
			return
		}

		var err error

		if w.deps.State.HasOpen(w.symbol) {
			err = w.monitorPosition(ctx, deadline)
		} else {
			err = w.huntSignals(ctx, deadline)
		}

		if err != nil && ctx.Err() == nil {
			w.deps.Logger.Error("worker iteration failed",
				zap.String("symbol", w.symbol),
				zap.Error(err),
			)

			_ = w.deps.Clock.Sleep(ctx, w.cfg.ErrorRetry)
		}
	}
}

// recoverArmedBias resumes an entry search from a persisted bias when the
// process restarted mid-search and the bias is still fresh.
func (w *Worker) recoverArmedBias() {
	snapshot, ok := w.deps.State.ArmedBias(w.symbol)
	if !ok {
		return
	}

	if w.deps.Machine.ArmRecovered(snapshot, w.deps.Clock.Now(), w.cfg.RecentBiasMax) {
		w.deps.Logger.Info("resuming entry search from persisted bias",
			zap.String("symbol", w.symbol),
			zap.String("direction", string(snapshot.Direction)),
		)
	}
}

// monitorPosition polls an open position until it closes or the deadline
// passes, reconciling against broker truth every ReconcileEveryPolls polls.
func (w *Worker) monitorPosition(ctx context.Context, deadline time.Time) error {
	polls := 0

	for w.deps.Clock.Now().Before(deadline) {
		if err := w.deps.Clock.Sleep(ctx, w.cfg.MonitorInterval); err != nil {
			return nil
		}

		polls++
		if polls%w.cfg.ReconcileEveryPolls != 0 {
			continue
		}

		positions, err := w.deps.Gateway.Positions(ctx)
		if err != nil {
			return errors.Wrap(errors.ErrCodeBrokerCall, "position reconcile failed", err)
		}

		if holdsPosition(positions, w.symbol) {
			continue
		}

		return w.handleClosure(ctx)
	}

	return nil
}

// handleClosure books the closed position: P&L against the risk gate, session
// state, audit outcome, and a notification.
func (w *Worker) handleClosure(ctx context.Context) error {
	last, err := w.deps.Gateway.LastPrice(ctx, w.symbol)
	if err != nil {
		// Without an exit price nothing can be booked; release the slot so
		// the risk gate does not stay pinned to a phantom position.
		w.deps.Risk.ForceRelease(w.symbol)
		w.deps.State.MarkClosed(ctx, w.symbol)
		w.trade = nil

		return errors.Wrap(errors.ErrCodeBrokerCall, "exit price fetch failed after closure", err)
	}

	pnl, err := w.deps.Risk.RegisterClose(w.symbol, last.Mul(w.quantity))
	if err != nil {
		w.deps.Risk.ForceRelease(w.symbol)
	}

	w.deps.State.MarkClosed(ctx, w.symbol)

	if w.trade != nil {
		outcome := classifyOutcome(w.trade.direction, last, w.trade.stop, w.trade.target)

		if err := w.deps.Audit.MarkOutcome(ctx, w.trade.auditID, last, outcome); err != nil {
			w.deps.Logger.Warn("failed to mark audit outcome",
				zap.String("symbol", w.symbol),
				zap.Error(err),
			)
		}
	}

	w.trade = nil
	w.deps.Machine.Reset()

	w.deps.Sink.Notify(ctx, fmt.Sprintf("%s position closed at %s, pnl %s", w.symbol, last, pnl))

	w.deps.Logger.Info("position closed",
		zap.String("symbol", w.symbol),
		zap.String("exit", last.String()),
		zap.String("pnl", pnl.String()),
	)

	return nil
}

// huntSignals runs one bias evaluation at the next 15-minute boundary and, if
// the machine arms (or was already searching), drives the entry search.
func (w *Worker) huntSignals(ctx context.Context, deadline time.Time) error {
	// A machine already in ENTRY_SEARCH (recovered, or interrupted by an
	// error) goes straight back to searching.
	if w.deps.Machine.State() == types.SignalStateEntrySearch {
		return w.entrySearch(ctx, deadline)
	}

	if !w.deps.TradingEnabled() {
		_ = w.deps.Clock.Sleep(ctx, w.cfg.MonitorInterval)

		return nil
	}

	if w.cfg.OneTradePerDay && w.deps.State.IsTraded(w.symbol) {
		_, _ = SleepUntilBoundary(ctx, w.deps.Clock, types.GranularityM15, w.cfg.BoundaryBuffer)

		return nil
	}

	if _, err := SleepUntilBoundary(ctx, w.deps.Clock, types.GranularityM15, w.cfg.BoundaryBuffer); err != nil {
		return nil
	}

	now := w.deps.Clock.Now()
	if !now.Before(deadline) {
		return nil
	}

	bars, feats, err := w.deps.Aggregator.DeriveWithFeatures(types.GranularityM15, now)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeInsufficientData) {
			w.deps.Logger.Debug("not enough bars for bias yet", zap.String("symbol", w.symbol))

			return nil
		}

		return err
	}

	direction := w.deps.Machine.EvaluateBias(now, bars, feats)
	if direction == types.BiasNone {
		return nil
	}

	if armed, ok := w.deps.Machine.ArmedBias(); ok {
		w.deps.State.RecordBias(ctx, armed)
	}

	w.deps.Sink.Notify(ctx, fmt.Sprintf("%s bias armed %s, searching for entry", w.symbol, direction))

	return w.entrySearch(ctx, deadline)
}

// entrySearch checks for an entry trigger at each 5-minute boundary until the
// machine reaches a terminal state or the deadline passes.
func (w *Worker) entrySearch(ctx context.Context, deadline time.Time) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !w.deps.Clock.Now().Before(deadline) {
			w.deps.Machine.Reset()
			w.deps.State.ClearBias(ctx, w.symbol)

			return nil
		}

		if _, err := SleepUntilBoundary(ctx, w.deps.Clock, types.GranularityM5, w.cfg.BoundaryBuffer); err != nil {
			return nil
		}

		now := w.deps.Clock.Now()

		bars, feats, err := w.deps.Aggregator.DeriveWithFeatures(types.GranularityM5, now)
		if err != nil {
			return err
		}

		// Re-derive the higher timeframe so a bias flip aborts the search.
		fresh := types.BiasNone
		if bars15, feats15, err := w.deps.Aggregator.DeriveWithFeatures(types.GranularityM15, now); err == nil {
			fresh, _ = w.deps.Bias.Detect(bars15, feats15)
		}

		entry, outcome, rejection := w.deps.Machine.EvaluateEntry(bars, feats, fresh)

		switch outcome {
		case signal.OutcomeEntered:
			w.deps.State.ClearBias(ctx, w.symbol)

			return w.placeTrade(ctx, entry)

		case signal.OutcomeAborted:
			w.deps.State.ClearBias(ctx, w.symbol)
			w.deps.Sink.Notify(ctx, fmt.Sprintf("%s entry search aborted: bias flipped", w.symbol))

			return nil

		case signal.OutcomeExpired:
			w.deps.State.ClearBias(ctx, w.symbol)

			w.deps.Logger.Info("entry search expired",
				zap.String("symbol", w.symbol),
				zap.String("last_rejection", string(rejection.Reason)),
			)

			return nil

		case signal.OutcomeContinue:
		}
	}
}

// placeTrade sizes, risk-checks, and places the bracket for a confirmed
// entry, then books the open position everywhere it is tracked.
func (w *Worker) placeTrade(ctx context.Context, entry *types.EntrySignal) error {
	price, err := w.deps.Gateway.LastPrice(ctx, w.symbol)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBrokerCall, "entry price fetch failed", err)
	}

	cost := price.Mul(w.quantity)

	if err := w.deps.Risk.CanOpen(w.symbol, cost); err != nil {
		w.deps.Logger.Warn("risk gate denied entry",
			zap.String("symbol", w.symbol),
			zap.String("cost", cost.String()),
			zap.Error(err),
		)

		w.deps.Sink.Notify(ctx, fmt.Sprintf("%s entry denied by risk gate: %s", w.symbol, err))

		return nil
	}

	spec := w.bracketFor(entry.Direction, price)

	result, placeErr := w.deps.Executor.PlaceBracket(ctx, spec)
	if result == nil {
		return placeErr
	}

	// An entry that never filled holds no position: cancel the resting order
	// and leave the day untraded instead of booking a phantom open.
	if result.State == types.BracketStateAwaitingFill {
		if err := w.deps.Gateway.CancelOrder(ctx, result.EntryOrderID); err != nil {
			w.deps.Logger.Warn("failed to cancel unfilled entry",
				zap.String("symbol", w.symbol),
				zap.String("order", result.EntryOrderID),
				zap.Error(err),
			)
		}

		w.deps.Sink.Notify(ctx, fmt.Sprintf("%s entry not filled, order cancelled", w.symbol))

		return placeErr
	}

	if err := w.deps.Risk.RegisterOpen(w.symbol, result.FilledPrice.Mul(w.quantity)); err != nil {
		w.deps.Logger.Warn("risk register failed after placement",
			zap.String("symbol", w.symbol),
			zap.Error(err),
		)
	}

	w.deps.State.MarkTraded(ctx, w.symbol)
	w.deps.State.MarkOpened(ctx, w.symbol)

	auditID := uuid.New().String()
	w.trade = &openTrade{
		auditID:   auditID,
		direction: entry.Direction,
		stop:      spec.StopLoss,
		target:    spec.Target,
		slOrder:   result.SLOrderID.TakeOr(""),
		tgtOrder:  result.TargetOrderID.TakeOr(""),
	}

	if err := w.deps.Audit.Record(ctx, audit.Entry{
		ID:         auditID,
		Timestamp:  w.deps.Clock.Now(),
		Instrument: w.symbol,
		Bias:       string(entry.Direction),
		OrderID:    result.EntryOrderID,
		Entry:      result.FilledPrice,
		Stop:       spec.StopLoss,
		Target:     spec.Target,
		Outcome:    audit.OutcomeOpen,
		Details:    strings.Join(entry.Reasons, ","),
	}); err != nil {
		w.deps.Logger.Warn("audit record failed",
			zap.String("symbol", w.symbol),
			zap.Error(err),
		)
	}

	w.deps.Sink.Notify(ctx, fmt.Sprintf("%s %s entry at %s, stop %s, target %s",
		w.symbol, entry.Direction, result.FilledPrice, spec.StopLoss, spec.Target))

	// A non-nil result with an error means the entry is live but the bracket
	// is incomplete; the position is booked either way and the error surfaces
	// for the outer loop to log.
	return placeErr
}

// bracketFor sizes the exits from the configured percentages.
func (w *Worker) bracketFor(direction types.BiasDirection, price decimal.Decimal) types.BracketSpec {
	slPct := decimal.NewFromFloat(w.cfg.Instrument.StopLossPct)
	tgtPct := decimal.NewFromFloat(w.cfg.Instrument.TargetPct)

	one := decimal.NewFromInt(1)

	spec := types.BracketSpec{
		Instrument: w.symbol,
		Quantity:   w.quantity,
		EntryPrice: price,
		TickSize:   w.tickSize,
	}

	if direction == types.BiasBull {
		spec.Side = types.PurchaseTypeBuy
		spec.StopLoss = price.Mul(one.Sub(slPct))
		spec.Target = price.Mul(one.Add(tgtPct))
	} else {
		spec.Side = types.PurchaseTypeSell
		spec.StopLoss = price.Mul(one.Add(slPct))
		spec.Target = price.Mul(one.Sub(tgtPct))
	}

	return spec
}

// ForceExit flattens an open position unconditionally: cancels surviving exit
// legs, sends a market exit, and books the closure.
func (w *Worker) ForceExit(ctx context.Context) error {
	if !w.deps.State.HasOpen(w.symbol) {
		return nil
	}

	side := types.PurchaseTypeSell

	if w.trade != nil {
		if w.trade.direction == types.BiasBear {
			side = types.PurchaseTypeBuy
		}

		for _, orderID := range []string{w.trade.slOrder, w.trade.tgtOrder} {
			if orderID == "" {
				continue
			}

			if err := w.deps.Gateway.CancelOrder(ctx, orderID); err != nil {
				w.deps.Logger.Warn("failed to cancel exit leg before force exit",
					zap.String("symbol", w.symbol),
					zap.String("order", orderID),
					zap.Error(err),
				)
			}
		}
	}

	exitSpec := types.OrderSpec{
		ID:         uuid.New().String(),
		Instrument: w.symbol,
		Side:       side,
		OrderType:  types.OrderTypeMarket,
		Quantity:   w.quantity,
	}

	if _, err := w.deps.Gateway.PlaceOrder(ctx, exitSpec); err != nil {
		return errors.Wrap(errors.ErrCodeOrderFailed, "force exit order failed", err)
	}

	last, err := w.deps.Gateway.LastPrice(ctx, w.symbol)
	if err == nil {
		if _, closeErr := w.deps.Risk.RegisterClose(w.symbol, last.Mul(w.quantity)); closeErr != nil {
			w.deps.Risk.ForceRelease(w.symbol)
		}
	} else {
		w.deps.Risk.ForceRelease(w.symbol)
		last = decimal.Zero
	}

	w.deps.State.MarkClosed(ctx, w.symbol)

	if w.trade != nil {
		if err := w.deps.Audit.MarkOutcome(ctx, w.trade.auditID, last, audit.OutcomeForceExit); err != nil {
			w.deps.Logger.Warn("failed to mark force-exit outcome",
				zap.String("symbol", w.symbol),
				zap.Error(err),
			)
		}
	}

	w.trade = nil

	w.deps.Sink.Notify(ctx, fmt.Sprintf("%s force-exited before close at %s", w.symbol, last))

	return nil
}

// holdsPosition reports whether the broker still reports a position backing
// the tracked symbol. Spot brokers report the base asset, so containment
// covers TSLA vs TSLAUSDT style mismatches.
func holdsPosition(positions []types.BrokerPosition, symbol string) bool {
	upper := strings.ToUpper(symbol)

	for _, position := range positions {
		if position.Quantity.Sign() <= 0 {
			continue
		}

		if position.Instrument == symbol || strings.Contains(upper, strings.ToUpper(position.Instrument)) {
			return true
		}
	}

	return false
}

// classifyOutcome maps an exit price onto the bracket geometry.
func classifyOutcome(direction types.BiasDirection, exit, stop, target decimal.Decimal) audit.Outcome {
	if direction == types.BiasBull {
		switch {
		case exit.GreaterThanOrEqual(target):
			return audit.OutcomeTarget
		case exit.LessThanOrEqual(stop):
			return audit.OutcomeStopLoss
		}
	} else {
		switch {
		case exit.LessThanOrEqual(target):
			return audit.OutcomeTarget
		case exit.GreaterThanOrEqual(stop):
			return audit.OutcomeStopLoss
		}
	}

	return audit.OutcomeUnknown
}
