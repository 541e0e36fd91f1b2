// Package engine wires every component into one live trading process and
// owns its lifecycle.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/audit"
	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/calendar"
	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/execution"
	"github.com/meridian-lab/meridian-trading/internal/indicator"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/market"
	"github.com/meridian-lab/meridian-trading/internal/notify"
	"github.com/meridian-lab/meridian-trading/internal/ops"
	"github.com/meridian-lab/meridian-trading/internal/ratelimit"
	"github.com/meridian-lab/meridian-trading/internal/risk"
	"github.com/meridian-lab/meridian-trading/internal/scheduler"
	"github.com/meridian-lab/meridian-trading/internal/session"
	"github.com/meridian-lab/meridian-trading/internal/signal"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// shutdownTimeout bounds the ordered teardown after the run loop stops.
const shutdownTimeout = 30 * time.Second

// LiveEngine owns every long-lived component of the trading process.
type LiveEngine struct {
	cfg    config.Config
	logger *logger.Logger

	gateway   broker.Gateway
	store     session.Store
	recorder  audit.Recorder
	sink      notify.Sink
	scheduler *scheduler.Scheduler
	opsServer *ops.Server
	listener  *notify.CommandListener
}

// NewLiveEngine builds the full component graph from a validated config.
func NewLiveEngine(cfg config.Config) (*LiveEngine, error) {
	log, err := logger.NewLogger()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to create logger", err)
	}

	clock := utils.NewRealClock()

	sink := buildSink(cfg.Notify, log)

	breaker := ratelimit.NewCircuitBreaker(ratelimit.BreakerConfig{
		FailureThreshold: cfg.RateLimit.BreakerFailureThreshold,
		Cooldown:         cfg.RateLimit.BreakerCooldown(),
	}, clock, log, func(failures int) {
		sink.Notify(context.Background(),
			fmt.Sprintf("circuit breaker OPEN after %d consecutive broker failures", failures))
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		SafetyMargin: cfg.RateLimit.SafetyMargin,
	}, clock, log)

	gateway, err := broker.NewGateway(cfg.Broker, broker.Deps{
		Limiter: limiter,
		Breaker: breaker,
		Clock:   clock,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg.Session)
	if err != nil {
		return nil, err
	}

	recorder, err := buildRecorder(cfg.Audit)
	if err != nil {
		return nil, err
	}

	gate := risk.NewGate(risk.Limits{
		MaxAllocPct:     cfg.Risk.MaxAllocPct,
		MaxPositionPct:  cfg.Risk.MaxPositionPct,
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
	}, log)

	signalCfg := signalConfigFrom(cfg.Signal)
	indicators := indicator.NewBuiltinEngine()

	aggregators := make(map[string]*market.Aggregator, len(cfg.Instruments))
	machines := make(map[string]*signal.Machine, len(cfg.Instruments))

	for _, inst := range cfg.Instruments {
		aggregators[inst.Symbol] = market.NewAggregator(inst.Symbol, market.Config{
			MaxBars:            cfg.Bars.MaxBars,
			CompletenessBuffer: cfg.Bars.CompletenessBuffer(),
		}, indicators, log)

		machines[inst.Symbol] = signal.NewMachine(inst.Symbol, signalCfg, log)
	}

	executor := execution.NewExecutor(gateway, execution.Config{
		MaxRetries:           cfg.Execution.MaxRetries,
		FillTimeout:          cfg.Execution.FillTimeout(),
		PollInterval:         cfg.Execution.PollInterval(),
		EntryBufferPct:       cfg.Execution.EntryBufferPct,
		RetryInitialInterval: execution.DefaultConfig().RetryInitialInterval,
	}, clock, sink, log)

	sched := scheduler.NewScheduler(cfg, scheduler.Deps{
		Gateway:     gateway,
		Aggregators: aggregators,
		Machines:    machines,
		Bias:        signal.NewBiasDetector(signalCfg),
		Executor:    executor,
		Risk:        gate,
		Store:       store,
		Calendar:    calendar.ForTimezone(cfg.Market.Timezone, cfg.Market.Holidays),
		Audit:       recorder,
		Sink:        sink,
		Clock:       clock,
		Logger:      log,
	})

	engine := &LiveEngine{
		cfg:       cfg,
		logger:    log,
		gateway:   gateway,
		store:     store,
		recorder:  recorder,
		sink:      sink,
		scheduler: sched,
	}

	if cfg.Ops.Enabled {
		engine.opsServer = ops.NewServer(cfg.Ops.Listen, ops.Deps{
			Scheduler: sched,
			Risk:      gate,
			Breaker:   breaker,
			Limiter:   limiter,
			Logger:    log,
		})
	}

	if cfg.Notify.Commands && cfg.Notify.Telegram {
		telegram := notify.NewTelegramSink(cfg.Notify.TelegramToken, cfg.Notify.TelegramChat, log)

		engine.listener = notify.NewCommandListener(telegram, notify.CommandHandlers{
			Positions: func(context.Context) string {
				state := sched.ActiveState()
				if state == nil {
					return "no active session"
				}

				open := state.OpenPositions()
				if len(open) == 0 {
					return "no open positions"
				}

				return "open: " + strings.Join(open, ", ")
			},
			Stop: func(context.Context) string {
				sched.Pause()

				return "trading paused"
			},
			Start: func(context.Context) string {
				sched.Resume()

				return "trading resumed"
			},
		}, log)
	}

	return engine, nil
}

// Run blocks until ctx is cancelled, then tears the engine down in order
// within the shutdown timeout.
func (e *LiveEngine) Run(ctx context.Context) error {
	e.logger.Info("starting live engine",
		zap.Int("instruments", len(e.cfg.Instruments)),
		zap.String("broker", e.cfg.Broker.Type),
	)

	var wg sync.WaitGroup

	if e.opsServer != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := e.opsServer.Run(ctx); err != nil {
				e.logger.Warn("ops server stopped", zap.Error(err))
			}
		}()
	}

	if e.listener != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()
			e.listener.Run(ctx)
		}()
	}

	err := e.scheduler.Run(ctx)
	if err != nil && ctx.Err() == nil {
		e.logger.Error("scheduler stopped unexpectedly", zap.Error(err))
	}

	wg.Wait()
	e.shutdown()

	if ctx.Err() != nil {
		return nil
	}

	return err
}

// shutdown releases resources in dependency order, bounded by the timeout.
func (e *LiveEngine) shutdown() {
	e.logger.Info("shutting down")

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := e.gateway.Close(); err != nil {
			e.logger.Warn("gateway close failed", zap.Error(err))
		}

		if err := e.recorder.Close(); err != nil {
			e.logger.Warn("audit close failed", zap.Error(err))
		}

		if err := e.store.Close(); err != nil {
			e.logger.Warn("session store close failed", zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		e.logger.Error("shutdown timed out")
	}

	_ = e.logger.Sync()
}

func buildSink(cfg config.NotifyConfig, log *logger.Logger) notify.Sink {
	if !cfg.Telegram || cfg.TelegramToken == "" {
		return notify.NewLoggerSink(log)
	}

	return notify.NewMultiSink(
		notify.NewLoggerSink(log),
		notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChat, log),
	)
}

func buildStore(cfg config.SessionConfig) (session.Store, error) {
	if cfg.Store == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ttl := time.Duration(cfg.KeepDays) * 24 * time.Hour

		return session.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl)
	}

	return session.NewFileStore(cfg.StateDir)
}

func buildRecorder(cfg config.AuditConfig) (audit.Recorder, error) {
	if cfg.Path == "" {
		return audit.NopRecorder{}, nil
	}

	return audit.NewDuckDBStore(cfg.Path)
}

func signalConfigFrom(cfg config.SignalConfig) signal.Config {
	return signal.Config{
		RearmWindow:     cfg.RearmWindow(),
		MaxEntryChecks:  cfg.MaxEntryChecks,
		MACDMinHist:     cfg.MACDMinHist,
		RSIBullMin:      cfg.RSIBullMin,
		RSIBearMax:      cfg.RSIBearMax,
		RSIEntryBullMin: cfg.RSIEntryBullMin,
		RSIEntryBullMax: cfg.RSIEntryBullMax,
		RSIEntryBearMin: cfg.RSIEntryBearMin,
		RSIEntryBearMax: cfg.RSIEntryBearMax,
		VolumeFactor:    cfg.VolumeFactor,
		EMACrossWindow:  cfg.EMACrossWindow,
	}
}
