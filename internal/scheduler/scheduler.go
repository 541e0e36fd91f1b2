package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/audit"
	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/calendar"
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

// Deps are the long-lived collaborators the scheduler composes into each
// daily session.
type Deps struct {
	Gateway     broker.Gateway
	Aggregators map[string]*market.Aggregator
	Machines    map[string]*signal.Machine
	Bias        *signal.BiasDetector
	Executor    *execution.Executor
	Risk        *risk.Gate
	Store       session.Store
	Calendar    *calendar.Calendar
	Audit       audit.Recorder
	Sink        notify.Sink
	Clock       utils.Clock
	Logger      *logger.Logger
}

// Scheduler runs one trading session per trading day and sleeps through
// everything else. It is the only component aware of market hours.
type Scheduler struct {
	cfg  config.Config
	deps Deps
	loc  *time.Location

	paused atomic.Bool
	state  atomic.Pointer[session.State]
}

// NewScheduler creates the session scheduler.
func NewScheduler(cfg config.Config, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		deps: deps,
		loc:  cfg.Market.Location(),
	}
}

// Pause suppresses new entries; open positions keep being monitored.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.deps.Logger.Info("trading paused")
}

// Resume re-enables new entries.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.deps.Logger.Info("trading resumed")
}

// IsPaused reports whether new entries are suppressed.
func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

// ActiveState returns the current session's state, nil outside a session.
func (s *Scheduler) ActiveState() *session.State {
	return s.state.Load()
}

// Run loops forever: sleep to the next session window, run the session, and
// repeat. It returns only when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := s.deps.Clock.Now().In(s.loc)
		open := s.clockTimeOn(now, s.cfg.Market.OpenTime)
		closeAt := s.clockTimeOn(now, s.cfg.Market.CloseTime)
		preConnect := open.Add(-time.Duration(s.cfg.Market.PreConnectMinutes) * time.Minute)

		switch {
		case !s.deps.Calendar.IsTradingDay(now) || !now.Before(closeAt):
			next := s.deps.Calendar.NextTradingDay(now)
			target := s.clockTimeOn(next, s.cfg.Market.OpenTime).
				Add(-time.Duration(s.cfg.Market.PreConnectMinutes) * time.Minute)

			s.deps.Logger.Info("market closed, sleeping to next trading day",
				zap.Time("until", target),
			)

			if err := s.deps.Clock.Sleep(ctx, target.Sub(now)); err != nil {
				return err
			}

		case now.Before(preConnect):
			s.deps.Logger.Info("pre-market, sleeping to connect time",
				zap.Time("until", preConnect),
			)

			if err := s.deps.Clock.Sleep(ctx, preConnect.Sub(now)); err != nil {
				return err
			}

		default:
			if err := s.runSession(ctx, closeAt); err != nil && ctx.Err() == nil {
				s.deps.Logger.Error("session failed", zap.Error(err))
				s.deps.Sink.Notify(ctx, fmt.Sprintf("session failed: %s", err))

				if err := s.deps.Clock.Sleep(ctx, time.Minute); err != nil {
					return err
				}
			}
		}
	}
}

// runSession runs one trading day end to end.
func (s *Scheduler) runSession(ctx context.Context, closeAt time.Time) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := s.deps.Clock.Now().In(s.loc)

	s.deps.Logger.Info("starting trading session",
		zap.String("date", now.Format(session.DateFormat)),
		zap.Time("close", closeAt),
	)

	if err := s.deps.Gateway.Authenticate(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeBrokerAuth, "session authentication failed", err)
	}

	balance, err := s.deps.Gateway.AccountBalance(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBrokerCall, "start balance fetch failed", err)
	}

	s.deps.Risk.CaptureStartBalance(balance.Total, now)

	s.backfill(ctx, now)

	state := session.NewState(ctx, s.deps.Store, now, s.symbols(), s.deps.Logger)

	positions, err := s.deps.Gateway.Positions(ctx)
	if err != nil {
		s.deps.Logger.Warn("position sync failed, keeping persisted state", zap.Error(err))
	} else {
		state.SyncWithBroker(ctx, positions)
		s.recoverRiskExposure(positions)
	}

	s.state.Store(state)
	defer s.state.Store(nil)

	workers, err := s.buildWorkers(state)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	s.startBarFeed(sessionCtx, &wg)

	if s.cfg.Worker.HeartbeatHours > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.heartbeat(sessionCtx, state)
		}()
	}

	forceExitAt := closeAt.Add(-time.Duration(s.cfg.Market.ForceExitMinutes) * time.Minute)
	stagger := time.Duration(s.cfg.Worker.StartStaggerSeconds) * time.Second

	for i, worker := range workers {
		wg.Add(1)

		go func(worker *Worker, delay time.Duration) {
			defer wg.Done()

			if err := s.deps.Clock.Sleep(sessionCtx, delay); err != nil {
				return
			}

			worker.Run(sessionCtx, forceExitAt)
		}(worker, time.Duration(i)*stagger)
	}

	// The workers stop themselves at the force-exit deadline; sweep whatever
	// is still open, then ride out the last minutes to the close.
	if err := s.deps.Clock.Sleep(ctx, forceExitAt.Sub(s.deps.Clock.Now())); err == nil {
		s.forceExitSweep(ctx, workers)
		_ = s.deps.Clock.Sleep(ctx, closeAt.Sub(s.deps.Clock.Now()))
	}

	cancel()
	wg.Wait()

	for _, agg := range s.deps.Aggregators {
		agg.FinalizeCurrent()
	}

	s.endOfDayReport(ctx, now)

	if err := s.deps.Store.Prune(ctx, now, time.Duration(s.cfg.Session.KeepDays)*24*time.Hour); err != nil {
		s.deps.Logger.Warn("state prune failed", zap.Error(err))
	}

	s.deps.Logger.Info("trading session finished",
		zap.String("date", now.Format(session.DateFormat)),
	)

	return ctx.Err()
}

// backfill loads recent 1-minute history into every aggregator, staggered so
// the burst stays inside the historical-bars rate window.
func (s *Scheduler) backfill(ctx context.Context, now time.Time) {
	from := now.Add(-time.Duration(s.cfg.Bars.HistoricalDays) * 24 * time.Hour)
	stagger := time.Duration(s.cfg.Worker.StartStaggerSeconds) * time.Second

	for i, inst := range s.cfg.Instruments {
		if i > 0 {
			if err := s.deps.Clock.Sleep(ctx, stagger); err != nil {
				return
			}
		}

		bars, err := s.deps.Gateway.HistoricalBars(ctx, inst.Symbol, types.GranularityM1, from, now)
		if err != nil {
			s.deps.Logger.Warn("historical backfill failed",
				zap.String("symbol", inst.Symbol),
				zap.Error(err),
			)

			continue
		}

		if agg, ok := s.deps.Aggregators[inst.Symbol]; ok {
			agg.LoadHistorical(bars)
		}
	}
}

// recoverRiskExposure re-registers broker-held positions with the risk gate
// so allocation limits account for capital already deployed.
func (s *Scheduler) recoverRiskExposure(positions []types.BrokerPosition) {
	for _, inst := range s.cfg.Instruments {
		for _, position := range positions {
			if position.Quantity.Sign() <= 0 {
				continue
			}

			if !strings.Contains(strings.ToUpper(inst.Symbol), strings.ToUpper(position.Instrument)) {
				continue
			}

			cost := position.AvgPrice.Mul(position.Quantity)
			if err := s.deps.Risk.RegisterOpen(inst.Symbol, cost); err != nil {
				s.deps.Logger.Debug("risk exposure already registered",
					zap.String("symbol", inst.Symbol),
				)
			}
		}
	}
}

func (s *Scheduler) buildWorkers(state *session.State) ([]*Worker, error) {
	workers := make([]*Worker, 0, len(s.cfg.Instruments))

	for _, inst := range s.cfg.Instruments {
		worker, err := NewWorker(WorkerConfig{
			Instrument:          inst,
			MonitorInterval:     s.cfg.Worker.MonitorInterval(),
			BoundaryBuffer:      s.cfg.Worker.BoundaryBuffer(),
			ErrorRetry:          s.cfg.Worker.ErrorRetryDelay(),
			ReconcileEveryPolls: s.cfg.Worker.ReconcileEveryPolls,
			OneTradePerDay:      s.cfg.Session.OneTradePerDay,
			RecentBiasMax:       time.Duration(s.cfg.Worker.RecentBiasMaxMinutes) * time.Minute,
		}, WorkerDeps{
			Gateway:        s.deps.Gateway,
			Aggregator:     s.deps.Aggregators[inst.Symbol],
			Machine:        s.deps.Machines[inst.Symbol],
			Bias:           s.deps.Bias,
			Executor:       s.deps.Executor,
			Risk:           s.deps.Risk,
			State:          state,
			Audit:          s.deps.Audit,
			Sink:           s.deps.Sink,
			Clock:          s.deps.Clock,
			Logger:         s.deps.Logger,
			TradingEnabled: func() bool { return !s.IsPaused() },
		})
		if err != nil {
			return nil, err
		}

		workers = append(workers, worker)
	}

	return workers, nil
}

// startBarFeed feeds 1-minute bars into the aggregators, preferring the
// websocket stream and degrading to REST polling when it gives up.
func (s *Scheduler) startBarFeed(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		if s.cfg.Broker.Stream {
			stream := broker.NewKlineStream("", s.symbols(), s.dispatchBar, s.deps.Logger)

			err := stream.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}

			s.deps.Logger.Warn("kline stream gave up, degrading to REST polling",
				zap.Error(err),
			)
		}

		s.pollBars(ctx)
	}()
}

func (s *Scheduler) dispatchBar(instrument string, bar types.Bar) {
	agg, ok := s.deps.Aggregators[instrument]
	if !ok {
		upper := strings.ToUpper(instrument)
		for symbol, candidate := range s.deps.Aggregators {
			if strings.ToUpper(symbol) == upper {
				agg = candidate

				break
			}
		}
	}

	if agg == nil {
		return
	}

	if err := agg.Append(bar); err != nil && !errors.HasCode(err, errors.ErrCodeBarDuplicate) {
		s.deps.Logger.Warn("stream bar rejected",
			zap.String("symbol", instrument),
			zap.Error(err),
		)
	}
}

// pollBars fetches the trailing 1-minute bars for every instrument at each
// minute boundary. Duplicates are expected and skipped by the aggregator.
func (s *Scheduler) pollBars(ctx context.Context) {
	for {
		if _, err := SleepUntilBoundary(ctx, s.deps.Clock, types.GranularityM1, s.cfg.Worker.BoundaryBuffer()); err != nil {
			return
		}

		now := s.deps.Clock.Now()

		for _, inst := range s.cfg.Instruments {
			agg, ok := s.deps.Aggregators[inst.Symbol]
			if !ok {
				continue
			}

			from := now.Add(-5 * time.Minute)
			if last, ok := agg.LastCloseTime(); ok && last.After(from) {
				from = last
			}

			bars, err := s.deps.Gateway.HistoricalBars(ctx, inst.Symbol, types.GranularityM1, from, now)
			if err != nil {
				s.deps.Logger.Warn("bar poll failed",
					zap.String("symbol", inst.Symbol),
					zap.Error(err),
				)

				continue
			}

			for _, bar := range bars {
				if err := agg.Append(bar); err != nil && !errors.HasCode(err, errors.ErrCodeBarDuplicate) {
					s.deps.Logger.Warn("polled bar rejected",
						zap.String("symbol", inst.Symbol),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// heartbeat periodically reports that the session is alive and what it holds.
func (s *Scheduler) heartbeat(ctx context.Context, state *session.State) {
	interval := time.Duration(s.cfg.Worker.HeartbeatHours) * time.Hour

	for {
		if err := s.deps.Clock.Sleep(ctx, interval); err != nil {
			return
		}

		snapshot := s.deps.Risk.Snapshot()

		s.deps.Sink.Notify(ctx, fmt.Sprintf("heartbeat: %d trades today, open %v, daily pnl %s",
			state.TotalTrades(), state.OpenPositions(), snapshot.DailyPnL))
	}
}

// forceExitSweep flattens every position still open near the close.
func (s *Scheduler) forceExitSweep(ctx context.Context, workers []*Worker) {
	for _, worker := range workers {
		if err := worker.ForceExit(ctx); err != nil {
			s.deps.Logger.Error("force exit failed",
				zap.String("symbol", worker.Symbol()),
				zap.Error(err),
			)

			s.deps.Sink.Notify(ctx, fmt.Sprintf("force exit FAILED for %s: %s", worker.Symbol(), err))
		}
	}
}

// endOfDayReport summarizes the day from the audit log and the risk gate.
func (s *Scheduler) endOfDayReport(ctx context.Context, day time.Time) {
	snapshot := s.deps.Risk.Snapshot()

	var lines []string

	lines = append(lines, fmt.Sprintf("end of day %s: pnl %s, %d trades",
		day.Format(session.DateFormat), snapshot.DailyPnL, snapshot.TotalTrades))

	trades, err := s.deps.Audit.TradesOn(ctx, day)
	if err != nil {
		s.deps.Logger.Warn("end-of-day audit query failed", zap.Error(err))
	}

	for _, trade := range trades {
		lines = append(lines, fmt.Sprintf("%s %s entry %s exit %s (%s)",
			trade.Instrument, trade.Bias, trade.Entry, trade.ExitPrice, trade.Outcome))
	}

	s.deps.Sink.Notify(ctx, strings.Join(lines, "\n"))
}

func (s *Scheduler) symbols() []string {
	symbols := make([]string, 0, len(s.cfg.Instruments))
	for _, inst := range s.cfg.Instruments {
		symbols = append(symbols, inst.Symbol)
	}

	return symbols
}

// clockTimeOn combines a date with a 15:04 clock string in the market
// location. The clock string is validated at config load.
func (s *Scheduler) clockTimeOn(day time.Time, clock string) time.Time {
	parsed, _ := time.Parse("15:04", clock)

	return time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, s.loc)
}
