package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/audit"
	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/calendar"
	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/execution"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/risk"
	"github.com/meridian-lab/meridian-trading/internal/session"
	"github.com/meridian-lab/meridian-trading/internal/signal"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type fakeGateway struct {
	mu sync.Mutex

	lastPrice decimal.Decimal
	positions []types.BrokerPosition

	orders       []types.OrderSpec
	brackets     []types.BracketSpec
	cancelled    []string
	bracketIDs   *broker.BracketOrderIDs
	bracketErr   error
	positionsErr error
	orderStatus  types.OrderStatus
}

func (g *fakeGateway) Authenticate(context.Context) error { return nil }

func (g *fakeGateway) HistoricalBars(context.Context, string, types.Granularity, time.Time, time.Time) ([]types.Bar, error) {
	return nil, nil
}

func (g *fakeGateway) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return g.lastPrice, nil
}

func (g *fakeGateway) Positions(context.Context) ([]types.BrokerPosition, error) {
	return g.positions, g.positionsErr
}

func (g *fakeGateway) AccountBalance(context.Context) (types.AccountBalance, error) {
	return types.AccountBalance{Total: decimal.NewFromInt(10000), Available: decimal.NewFromInt(10000)}, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, spec types.OrderSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.orders = append(g.orders, spec)

	return "order-" + spec.ID, nil
}

func (g *fakeGateway) PlaceBracketOrder(_ context.Context, spec types.BracketSpec) (*broker.BracketOrderIDs, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.brackets = append(g.brackets, spec)

	return g.bracketIDs, g.bracketErr
}

func (g *fakeGateway) OrderStatus(context.Context, string) (types.OrderStatus, error) {
	if g.orderStatus != "" {
		return g.orderStatus, nil
	}

	return types.OrderStatusFilled, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelled = append(g.cancelled, orderID)

	return nil
}

func (g *fakeGateway) Close() error { return nil }

type recordingRecorder struct {
	mu       sync.Mutex
	entries  []audit.Entry
	outcomes map[string]audit.Outcome
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{outcomes: make(map[string]audit.Outcome)}
}

func (r *recordingRecorder) Record(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)

	return nil
}

func (r *recordingRecorder) MarkOutcome(_ context.Context, id string, _ decimal.Decimal, outcome audit.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes[id] = outcome

	return nil
}

func (r *recordingRecorder) TradesOn(context.Context, time.Time) ([]audit.Entry, error) {
	return nil, nil
}

func (r *recordingRecorder) Close() error { return nil }

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Notify(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, text)
}

var sessionStart = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type workerFixture struct {
	worker  *Worker
	gateway *fakeGateway
	clock   *utils.FakeClock
	state   *session.State
	gate    *risk.Gate
	audit   *recordingRecorder
	sink    *recordingSink
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	gateway := &fakeGateway{
		lastPrice:  decimal.NewFromFloat(100),
		bracketIDs: &broker.BracketOrderIDs{EntryOrderID: "11", SLOrderID: "12", TargetOrderID: "13", OCAGroup: "7"},
	}

	clock := utils.NewFakeClock(sessionStart)
	log := logger.NewNopLogger()
	sink := &recordingSink{}

	gate := risk.NewGate(risk.DefaultLimits(), log)
	gate.CaptureStartBalance(decimal.NewFromInt(10000), sessionStart)

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	state := session.NewState(context.Background(), store, sessionStart, []string{"TSLAUSDT"}, log)

	executor := execution.NewExecutor(gateway, execution.DefaultConfig(), clock, sink, log)
	recorder := newRecordingRecorder()

	worker, err := NewWorker(WorkerConfig{
		Instrument: config.InstrumentConfig{
			Symbol:      "TSLAUSDT",
			TickSize:    "0.01",
			Quantity:    "10",
			StopLossPct: 0.02,
			TargetPct:   0.04,
		},
		MonitorInterval:     2 * time.Second,
		BoundaryBuffer:      5 * time.Second,
		ErrorRetry:          10 * time.Second,
		ReconcileEveryPolls: 1,
		OneTradePerDay:      true,
		RecentBiasMax:       30 * time.Minute,
	}, WorkerDeps{
		Gateway:  gateway,
		Machine:  signal.NewMachine("TSLAUSDT", signal.DefaultConfig(), log),
		Executor: executor,
		Risk:     gate,
		State:    state,
		Audit:    recorder,
		Sink:     sink,
		Clock:    clock,
		Logger:   log,
	})
	require.NoError(t, err)

	return &workerFixture{
		worker:  worker,
		gateway: gateway,
		clock:   clock,
		state:   state,
		gate:    gate,
		audit:   recorder,
		sink:    sink,
	}
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 7, 23, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 2, 10, 8, 0, 0, time.UTC), NextBoundary(base, types.GranularityM1))
	assert.Equal(t, time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC), NextBoundary(base, types.GranularityM5))
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), NextBoundary(base, types.GranularityM15))

	// Exactly on a boundary maps to the next one.
	onBoundary := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), NextBoundary(onBoundary, types.GranularityM15))
}

func TestSleepUntilBoundaryAppliesBufferFloor(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2026, 3, 2, 10, 14, 0, 0, time.UTC))

	boundary, err := SleepUntilBoundary(context.Background(), clock, types.GranularityM15, time.Second)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), boundary)
	// One minute to the boundary plus the 5s floor, not the 1s buffer.
	assert.Equal(t, []time.Duration{time.Minute + 5*time.Second}, clock.Sleeps())
}

func TestWorkerRunStopsAtDeadline(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.Run(context.Background(), sessionStart.Add(-time.Minute))

	assert.Empty(t, f.gateway.orders)
	assert.Empty(t, f.gateway.brackets)
}

func TestPlaceTradeBooksPosition(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	entry := &types.EntrySignal{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Price:      decimal.NewFromFloat(100),
		Time:       sessionStart,
		Reasons:    []string{"vwap", "volume"},
	}

	require.NoError(t, f.worker.placeTrade(ctx, entry))

	require.Len(t, f.gateway.brackets, 1)
	spec := f.gateway.brackets[0]

	assert.Equal(t, types.PurchaseTypeBuy, spec.Side)
	assert.True(t, spec.StopLoss.Equal(decimal.NewFromFloat(98)))
	assert.True(t, spec.Target.Equal(decimal.NewFromFloat(104)))

	assert.True(t, f.state.IsTraded("TSLAUSDT"))
	assert.True(t, f.state.HasOpen("TSLAUSDT"))
	assert.True(t, f.gate.HasOpen("TSLAUSDT"))

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.OutcomeOpen, f.audit.entries[0].Outcome)
	assert.Equal(t, "vwap,volume", f.audit.entries[0].Details)
}

func TestPlaceTradeDeniedByRiskPlacesNothing(t *testing.T) {
	f := newWorkerFixture(t)

	// 100 * 10 = 1000 fits; price the cost over the 70% per-position cap.
	f.gateway.lastPrice = decimal.NewFromInt(800)

	entry := &types.EntrySignal{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Price:      decimal.NewFromInt(800),
		Time:       sessionStart,
	}

	require.NoError(t, f.worker.placeTrade(context.Background(), entry))

	assert.Empty(t, f.gateway.brackets)
	assert.False(t, f.state.IsTraded("TSLAUSDT"))
	assert.NotEmpty(t, f.sink.messages)
}

func TestPlaceTradeUnfilledEntryIsCancelledNotBooked(t *testing.T) {
	f := newWorkerFixture(t)

	// Native brackets rejected and the manual entry never fills: the fake
	// clock walks the poll loop through the fill timeout.
	f.gateway.bracketErr = errors.New(errors.ErrCodeBracketRejected, "native brackets unsupported")
	f.gateway.orderStatus = types.OrderStatusPending

	entry := &types.EntrySignal{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Price:      decimal.NewFromFloat(100),
		Time:       sessionStart,
	}

	require.NoError(t, f.worker.placeTrade(context.Background(), entry))

	// No position anywhere: the day is still untraded and the risk gate free.
	assert.False(t, f.state.IsTraded("TSLAUSDT"))
	assert.False(t, f.state.HasOpen("TSLAUSDT"))
	assert.False(t, f.gate.HasOpen("TSLAUSDT"))
	assert.Empty(t, f.audit.entries)

	// The resting entry order was cancelled.
	require.Len(t, f.gateway.orders, 1)
	assert.Equal(t, []string{"order-" + f.gateway.orders[0].ID}, f.gateway.cancelled)
}

func TestMonitorDetectsClosureAndBooksIt(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	entry := &types.EntrySignal{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Price:      decimal.NewFromFloat(100),
		Time:       sessionStart,
	}

	require.NoError(t, f.worker.placeTrade(ctx, entry))

	// Broker no longer reports the position; exit printed at the target.
	f.gateway.positions = nil
	f.gateway.lastPrice = decimal.NewFromFloat(104)

	require.NoError(t, f.worker.monitorPosition(ctx, sessionStart.Add(time.Hour)))

	assert.False(t, f.state.HasOpen("TSLAUSDT"))
	assert.False(t, f.gate.HasOpen("TSLAUSDT"))

	auditID := f.audit.entries[0].ID
	assert.Equal(t, audit.OutcomeTarget, f.audit.outcomes[auditID])
}

func TestForceExitFlattensPosition(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	entry := &types.EntrySignal{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Price:      decimal.NewFromFloat(100),
		Time:       sessionStart,
	}

	require.NoError(t, f.worker.placeTrade(ctx, entry))
	require.NoError(t, f.worker.ForceExit(ctx))

	// Both exit legs cancelled, then a market sell.
	assert.ElementsMatch(t, []string{"12", "13"}, f.gateway.cancelled)
	require.Len(t, f.gateway.orders, 1)
	assert.Equal(t, types.OrderTypeMarket, f.gateway.orders[0].OrderType)
	assert.Equal(t, types.PurchaseTypeSell, f.gateway.orders[0].Side)

	assert.False(t, f.state.HasOpen("TSLAUSDT"))

	auditID := f.audit.entries[0].ID
	assert.Equal(t, audit.OutcomeForceExit, f.audit.outcomes[auditID])
}

func TestForceExitWithoutPositionIsNoop(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, f.worker.ForceExit(context.Background()))

	assert.Empty(t, f.gateway.orders)
	assert.Empty(t, f.gateway.cancelled)
}

func TestClassifyOutcome(t *testing.T) {
	stop := decimal.NewFromInt(98)
	target := decimal.NewFromInt(104)

	tests := []struct {
		name      string
		direction types.BiasDirection
		exit      decimal.Decimal
		want      audit.Outcome
	}{
		{"bull target", types.BiasBull, decimal.NewFromInt(104), audit.OutcomeTarget},
		{"bull stop", types.BiasBull, decimal.NewFromInt(97), audit.OutcomeStopLoss},
		{"bull between", types.BiasBull, decimal.NewFromInt(101), audit.OutcomeUnknown},
		{"bear target", types.BiasBear, decimal.NewFromInt(90), audit.OutcomeTarget},
		{"bear stop", types.BiasBear, decimal.NewFromInt(105), audit.OutcomeStopLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bearStop := decimal.NewFromInt(102)
			bearTarget := decimal.NewFromInt(96)

			if tt.direction == types.BiasBull {
				assert.Equal(t, tt.want, classifyOutcome(tt.direction, tt.exit, stop, target))
			} else {
				assert.Equal(t, tt.want, classifyOutcome(tt.direction, tt.exit, bearStop, bearTarget))
			}
		})
	}
}

// cancellingClock cancels a context after the first sleep, so scheduler loop
// tests can observe exactly one sleep decision.
type cancellingClock struct {
	*utils.FakeClock
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingClock) Sleep(ctx context.Context, d time.Duration) error {
	err := c.FakeClock.Sleep(ctx, d)
	c.once.Do(c.cancel)

	return err
}

func TestSchedulerSleepsOverWeekend(t *testing.T) {
	// Saturday noon UTC.
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	clock := &cancellingClock{FakeClock: utils.NewFakeClock(saturday), cancel: cancel}

	cfg := config.DefaultConfig()
	cfg.Market.Timezone = "UTC"
	cfg.Instruments = []config.InstrumentConfig{{Symbol: "TSLAUSDT", TickSize: "0.01", Quantity: "1", StopLossPct: 0.02, TargetPct: 0.04}}

	log := logger.NewNopLogger()

	sched := NewScheduler(cfg, Deps{
		Gateway:  &fakeGateway{},
		Risk:     risk.NewGate(risk.DefaultLimits(), log),
		Calendar: calendar.New(calendar.ExchangeNone, nil),
		Audit:    audit.NopRecorder{},
		Sink:     &recordingSink{},
		Clock:    clock,
		Logger:   log,
	})

	_ = sched.Run(ctx)

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)

	// Saturday 12:00 to Monday 09:00 (09:30 open minus 30m pre-connect).
	assert.Equal(t, 45*time.Hour, sleeps[0])
}
