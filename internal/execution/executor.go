// Package execution turns a confirmed entry signal into a protected bracket
// position. The native server-linked path is preferred; when the broker
// rejects it the executor falls back to placing and supervising the legs
// itself.
package execution

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/notify"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Config tunes the bracket executor.
type Config struct {
	// MaxRetries bounds native-path retries on transient errors.
	MaxRetries int
	// FillTimeout is how long the manual path waits for the entry to fill.
	FillTimeout time.Duration
	// PollInterval spaces the manual path's order status polls.
	PollInterval time.Duration
	// EntryBufferPct pads the manual entry limit price toward the fill side
	// so the limit behaves like a protected market order.
	EntryBufferPct float64
	// RetryInitialInterval seeds the native-path backoff.
	RetryInitialInterval time.Duration
}

// DefaultConfig returns the production executor settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		FillTimeout:          15 * time.Second,
		PollInterval:         time.Second,
		EntryBufferPct:       0.002,
		RetryInitialInterval: 500 * time.Millisecond,
	}
}

// Executor places bracket orders through the gateway.
type Executor struct {
	gateway broker.Gateway
	cfg     Config
	clock   utils.Clock
	sink    notify.Sink
	logger  *logger.Logger
}

// NewExecutor creates an executor on the given gateway.
func NewExecutor(gateway broker.Gateway, cfg Config, clock utils.Clock, sink notify.Sink, log *logger.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		cfg:     cfg,
		clock:   clock,
		sink:    sink,
		logger:  log,
	}
}

// PlaceBracket places the full bracket for spec. Prices are tick-rounded and
// band-checked before any network call; validation failures are never
// retried. The returned result is non-nil whenever at least the entry order
// exists, even when err is non-nil, and must be checked with IsGuarded.
func (e *Executor) PlaceBracket(ctx context.Context, spec types.BracketSpec) (*types.BracketResult, error) {
	normalized, err := e.normalize(spec)
	if err != nil {
		return nil, err
	}

	result, err := e.placeNative(ctx, normalized)
	if err == nil || result != nil {
		return result, err
	}

	if !e.shouldFallback(ctx, err) {
		return nil, err
	}

	e.logger.Info("native bracket failed, falling back to manual legs",
		zap.String("symbol", normalized.Instrument),
		zap.Error(err),
	)

	return e.placeManual(ctx, normalized)
}

// shouldFallback reports whether the manual-leg path should be tried after
// the native path failed without a live entry. Deterministic rejections and
// retry-exhausted transient failures both fall back; an open breaker, a
// cancelled acquire, an unguarded entry, or a dead context do not.
func (e *Executor) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	switch {
	case errors.HasCode(err, errors.ErrCodeBreakerOpen),
		errors.HasCode(err, errors.ErrCodeAcquireCancelled),
		errors.HasCode(err, errors.ErrCodeExitLegFailed):
		return false
	default:
		return true
	}
}

// normalize tick-rounds all three prices and validates bracket geometry.
func (e *Executor) normalize(spec types.BracketSpec) (types.BracketSpec, error) {
	if err := spec.Validate(); err != nil {
		return spec, err
	}

	if spec.TickSize.Sign() > 0 {
		spec.EntryPrice = utils.RoundToTick(spec.EntryPrice, spec.TickSize)
		spec.StopLoss = utils.RoundToTick(spec.StopLoss, spec.TickSize)
		spec.Target = utils.RoundToTick(spec.Target, spec.TickSize)
	}

	long := spec.Side == types.PurchaseTypeBuy

	if long && (spec.StopLoss.GreaterThanOrEqual(spec.EntryPrice) || spec.Target.LessThanOrEqual(spec.EntryPrice)) {
		return spec, errors.Newf(errors.ErrCodeInvalidBracket,
			"inverted long bracket: stop %s, entry %s, target %s", spec.StopLoss, spec.EntryPrice, spec.Target)
	}

	if !long && (spec.StopLoss.LessThanOrEqual(spec.EntryPrice) || spec.Target.GreaterThanOrEqual(spec.EntryPrice)) {
		return spec, errors.Newf(errors.ErrCodeInvalidBracket,
			"inverted short bracket: stop %s, entry %s, target %s", spec.StopLoss, spec.EntryPrice, spec.Target)
	}

	for _, price := range []decimal.Decimal{spec.EntryPrice, spec.StopLoss, spec.Target} {
		if !utils.WithinBand(price, spec.LowerBand, spec.UpperBand) {
			return spec, errors.Newf(errors.ErrCodeInvalidPrice,
				"price %s outside allowed band [%s, %s]", price, spec.LowerBand, spec.UpperBand)
		}
	}

	return spec, nil
}

// placeNative tries the one-shot server-linked path with bounded backoff. A
// deterministic rejection returns (nil, ErrCodeBracketRejected) for the
// caller to fall back; a partial failure after a live entry returns the
// partial result.
func (e *Executor) placeNative(ctx context.Context, spec types.BracketSpec) (*types.BracketResult, error) {
	var ids *broker.BracketOrderIDs

	operation := func() error {
		placed, err := e.gateway.PlaceBracketOrder(ctx, spec)
		ids = placed

		if err == nil {
			return nil
		}

		// Rejections, unprotected entries, and an open breaker are not
		// retryable; only transport-level failures are.
		switch {
		case errors.HasCode(err, errors.ErrCodeBracketRejected),
			errors.HasCode(err, errors.ErrCodeExitLegFailed),
			errors.HasCode(err, errors.ErrCodeBreakerOpen),
			errors.HasCode(err, errors.ErrCodeAcquireCancelled):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxRetries)), ctx)

	err := backoff.Retry(operation, policy)
	if err == nil {
		result := e.nativeResult(spec, ids)

		e.logger.Info("native bracket placed",
			zap.String("symbol", spec.Instrument),
			zap.String("entry_order", result.EntryOrderID),
			zap.String("oca_group", result.OCAGroup),
		)

		return result, nil
	}

	if errors.HasCode(err, errors.ErrCodeExitLegFailed) && ids != nil && ids.EntryOrderID != "" {
		// The entry is live without exits. Never unwind it; escalate.
		result := e.nativeResult(spec, ids)
		result.State = types.BracketStatePlacingExits

		e.alertUnprotected(ctx, spec.Instrument, result.EntryOrderID, err)

		return result, err
	}

	return nil, err
}

func (e *Executor) nativeResult(spec types.BracketSpec, ids *broker.BracketOrderIDs) *types.BracketResult {
	filled := ids.FilledPrice
	if filled.Sign() <= 0 {
		filled = spec.EntryPrice
	}

	result := &types.BracketResult{
		Mode:         types.BracketModeNative,
		State:        types.BracketStateActive,
		EntryOrderID: ids.EntryOrderID,
		OCAGroup:     ids.OCAGroup,
		FilledPrice:  filled,
		PlacedAt:     e.clock.Now(),
	}

	if ids.SLOrderID != "" {
		result.SLOrderID = optional.Some(ids.SLOrderID)
	}

	if ids.TargetOrderID != "" {
		result.TargetOrderID = optional.Some(ids.TargetOrderID)
	}

	return result
}

// placeManual places and supervises the legs itself: buffered limit entry,
// fill polling, then the two exit legs under one OCA group.
func (e *Executor) placeManual(ctx context.Context, spec types.BracketSpec) (*types.BracketResult, error) {
	entrySpec := types.OrderSpec{
		ID:         uuid.New().String(),
		Instrument: spec.Instrument,
		Side:       spec.Side,
		OrderType:  types.OrderTypeLimit,
		Quantity:   spec.Quantity,
		Price:      e.bufferedEntryPrice(spec),
	}

	entryID, err := e.gateway.PlaceOrder(ctx, entrySpec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeOrderFailed, "manual bracket entry failed", err)
	}

	result := &types.BracketResult{
		Mode:         types.BracketModeManual,
		State:        types.BracketStateAwaitingFill,
		EntryOrderID: entryID,
		FilledPrice:  spec.EntryPrice,
		PlacedAt:     e.clock.Now(),
	}

	filled, err := e.awaitFill(ctx, entryID)
	if err != nil {
		return result, err
	}

	if !filled {
		// The entry may still fill later; the caller owns the decision.
		e.logger.Warn("manual bracket entry unfilled at timeout",
			zap.String("symbol", spec.Instrument),
			zap.String("entry_order", entryID),
		)

		return result, nil
	}

	result.State = types.BracketStatePlacingExits

	ocaGroup := uuid.New().String()
	result.OCAGroup = ocaGroup
	exitSide := spec.Side.Opposite()

	slSpec := types.OrderSpec{
		ID:         uuid.New().String(),
		Instrument: spec.Instrument,
		Side:       exitSide,
		OrderType:  types.OrderTypeStopLimit,
		Quantity:   spec.Quantity,
		Price:      e.stopLimitPrice(spec),
		StopPrice:  optional.Some(spec.StopLoss),
		OCAGroup:   ocaGroup,
	}

	slID, slErr := e.gateway.PlaceOrder(ctx, slSpec)
	if slErr != nil {
		e.alertUnprotected(ctx, spec.Instrument, entryID, slErr)
	} else {
		result.SLOrderID = optional.Some(slID)
	}

	targetSpec := types.OrderSpec{
		ID:         uuid.New().String(),
		Instrument: spec.Instrument,
		Side:       exitSide,
		OrderType:  types.OrderTypeLimit,
		Quantity:   spec.Quantity,
		Price:      spec.Target,
		OCAGroup:   ocaGroup,
	}

	targetID, targetErr := e.gateway.PlaceOrder(ctx, targetSpec)
	if targetErr != nil {
		e.alertUnprotected(ctx, spec.Instrument, entryID, targetErr)
	} else {
		result.TargetOrderID = optional.Some(targetID)
	}

	if slErr == nil && targetErr == nil {
		result.State = types.BracketStateActive

		e.logger.Info("manual bracket placed",
			zap.String("symbol", spec.Instrument),
			zap.String("entry_order", entryID),
			zap.String("oca_group", ocaGroup),
		)

		return result, nil
	}

	err = slErr
	if err == nil {
		err = targetErr
	}

	return result, errors.Wrap(errors.ErrCodeExitLegFailed, "manual bracket exits incomplete", err)
}

// awaitFill polls the entry order until it fills, terminates, or the fill
// timeout passes.
func (e *Executor) awaitFill(ctx context.Context, orderID string) (bool, error) {
	deadline := e.clock.Now().Add(e.cfg.FillTimeout)

	for {
		status, err := e.gateway.OrderStatus(ctx, orderID)
		if err != nil {
			e.logger.Warn("entry fill poll failed",
				zap.String("order", orderID),
				zap.Error(err),
			)
		} else {
			switch status {
			case types.OrderStatusFilled:
				return true, nil
			case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusFailed:
				return false, errors.Newf(errors.ErrCodeOrderRejected,
					"entry order %s terminal without fill: %s", orderID, status)
			}
		}

		if !e.clock.Now().Add(e.cfg.PollInterval).Before(deadline) {
			return false, nil
		}

		if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

// bufferedEntryPrice pads the limit toward the fill side.
func (e *Executor) bufferedEntryPrice(spec types.BracketSpec) decimal.Decimal {
	buffer := spec.EntryPrice.Mul(decimal.NewFromFloat(e.cfg.EntryBufferPct))

	var price decimal.Decimal
	if spec.Side == types.PurchaseTypeBuy {
		price = spec.EntryPrice.Add(buffer)
	} else {
		price = spec.EntryPrice.Sub(buffer)
	}

	if spec.TickSize.Sign() > 0 {
		price = utils.RoundToTick(price, spec.TickSize)
	}

	return price
}

// stopLimitPrice nudges the stop leg's limit one tick through the trigger so
// it fills once triggered.
func (e *Executor) stopLimitPrice(spec types.BracketSpec) decimal.Decimal {
	tick := spec.TickSize
	if tick.Sign() <= 0 {
		return spec.StopLoss
	}

	if spec.Side == types.PurchaseTypeBuy {
		return spec.StopLoss.Sub(tick)
	}

	return spec.StopLoss.Add(tick)
}

func (e *Executor) alertUnprotected(ctx context.Context, instrument, entryID string, cause error) {
	e.logger.Error("position entry live without full exit protection",
		zap.String("symbol", instrument),
		zap.String("entry_order", entryID),
		zap.Error(cause),
	)

	e.sink.Notify(ctx, "UNPROTECTED POSITION "+instrument+": entry "+entryID+" has incomplete exit legs")
}
