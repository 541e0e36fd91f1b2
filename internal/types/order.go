package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type PurchaseType string

type OrderType string

type OrderStatus string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

// Opposite returns the other side, used when building exit legs.
func (p PurchaseType) Opposite() PurchaseType {
	if p == PurchaseTypeBuy {
		return PurchaseTypeSell
	}

	return PurchaseTypeBuy
}

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether the order can no longer fill.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// OrderSpec describes one order leg sent to the broker.
type OrderSpec struct {
	// ID is the client order id (uuid), assigned before the broker call so
	// retries stay idempotent.
	ID         string          `yaml:"id" json:"id" validate:"required,uuid"`
	Instrument string          `yaml:"instrument" json:"instrument" validate:"required"`
	Side       PurchaseType    `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	OrderType  OrderType       `yaml:"order_type" json:"order_type" validate:"required,oneof=MARKET LIMIT STOP_LIMIT"`
	Quantity   decimal.Decimal `yaml:"quantity" json:"quantity"`
	// Price is the limit price; ignored for market orders.
	Price decimal.Decimal `yaml:"price" json:"price"`
	// StopPrice is the trigger price for stop-limit orders.
	StopPrice optional.Option[decimal.Decimal] `yaml:"stop_price" json:"stop_price"`
	// OCAGroup links exit legs so the fill of one cancels the other. Empty
	// when the leg is standalone.
	OCAGroup string `yaml:"oca_group" json:"oca_group"`
}

// Validate validates the OrderSpec struct.
func (o *OrderSpec) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order spec", err)
	}

	if o.Quantity.Sign() <= 0 {
		return errors.New(errors.ErrCodeInvalidQuantity, "order quantity must be greater than zero")
	}

	if o.OrderType != OrderTypeMarket && o.Price.Sign() <= 0 {
		return errors.New(errors.ErrCodeInvalidPrice, "non-market order price must be greater than zero")
	}

	return nil
}

// BracketSpec describes a full bracket: entry plus linked stop-loss and
// target exits.
type BracketSpec struct {
	Instrument string          `yaml:"instrument" json:"instrument" validate:"required"`
	Side       PurchaseType    `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity   decimal.Decimal `yaml:"quantity" json:"quantity"`
	EntryPrice decimal.Decimal `yaml:"entry_price" json:"entry_price"`
	StopLoss   decimal.Decimal `yaml:"stop_loss" json:"stop_loss"`
	Target     decimal.Decimal `yaml:"target" json:"target"`
	// TickSize is the instrument's minimum price increment; all three prices
	// are rounded to it before any network call.
	TickSize decimal.Decimal `yaml:"tick_size" json:"tick_size"`
	// LowerBand/UpperBand are optional circuit/price-band limits. Zero
	// disables the bound.
	LowerBand decimal.Decimal `yaml:"lower_band" json:"lower_band"`
	UpperBand decimal.Decimal `yaml:"upper_band" json:"upper_band"`
}

// Validate validates the BracketSpec struct.
func (b *BracketSpec) Validate() error {
	validate := validator.New()
	if err := validate.Struct(b); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidBracket, "invalid bracket spec", err)
	}

	if b.Quantity.Sign() <= 0 {
		return errors.New(errors.ErrCodeInvalidQuantity, "bracket quantity must be greater than zero")
	}

	if b.EntryPrice.Sign() <= 0 || b.StopLoss.Sign() <= 0 || b.Target.Sign() <= 0 {
		return errors.New(errors.ErrCodeInvalidPrice, "bracket prices must be greater than zero")
	}

	return nil
}

// BracketState is the lifecycle state of a supervised bracket order.
type BracketState string

const (
	BracketStatePlacingEntry BracketState = "PLACING_ENTRY"
	BracketStateAwaitingFill BracketState = "AWAITING_FILL"
	BracketStatePlacingExits BracketState = "PLACING_EXITS"
	BracketStateActive       BracketState = "ACTIVE"
	BracketStateFailed       BracketState = "FAILED"
)

// BracketMode records which placement path produced the bracket.
type BracketMode string

const (
	BracketModeNative BracketMode = "native"
	BracketModeManual BracketMode = "manual"
)

// BracketResult is the outcome of a bracket placement. Legs that were never
// placed are None; a result with State != BracketStateActive must not be
// treated as a guarded position.
type BracketResult struct {
	Mode          BracketMode             `json:"mode"`
	State         BracketState            `json:"state"`
	EntryOrderID  string                  `json:"entry_order_id"`
	SLOrderID     optional.Option[string] `json:"sl_order_id"`
	TargetOrderID optional.Option[string] `json:"target_order_id"`
	OCAGroup      string                  `json:"oca_group"`
	// FilledPrice is the observed entry fill price when known, else the
	// requested entry price.
	FilledPrice decimal.Decimal `json:"filled_price"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// IsGuarded reports whether both exit legs are in place.
func (r BracketResult) IsGuarded() bool {
	return r.State == BracketStateActive && r.SLOrderID.IsSome() && r.TargetOrderID.IsSome()
}
