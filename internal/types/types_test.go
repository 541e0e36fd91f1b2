package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

func TestGranularity(t *testing.T) {
	assert.Equal(t, time.Minute, GranularityM1.Duration())
	assert.Equal(t, 5*time.Minute, GranularityM5.Duration())
	assert.Equal(t, 15*time.Minute, GranularityM15.Duration())
	assert.Equal(t, 30*time.Minute, GranularityM30.Duration())

	assert.NoError(t, GranularityM15.Validate())

	err := Granularity("7m").Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidGranularity))
}

func TestBarColor(t *testing.T) {
	bull := Bar{Open: 100, Close: 101}
	bear := Bar{Open: 101, Close: 100}
	flat := Bar{Open: 100, Close: 100}

	assert.True(t, bull.IsBullish())
	assert.False(t, bull.IsBearish())
	assert.True(t, bear.IsBearish())
	assert.False(t, flat.IsBullish())
	assert.False(t, flat.IsBearish())
	assert.InDelta(t, 1.0, bull.Body(), 1e-9)
	assert.InDelta(t, 1.0, bear.Body(), 1e-9)
}

func TestBarValidate(t *testing.T) {
	open := time.Date(2026, 3, 2, 14, 14, 0, 0, time.UTC)

	valid := Bar{OpenTime: open, CloseTime: open.Add(time.Minute), Open: 1, High: 2, Low: 1, Close: 2, Volume: 10}
	assert.NoError(t, valid.Validate())

	inverted := valid
	inverted.CloseTime = open.Add(-time.Minute)
	assert.Error(t, inverted.Validate())
}

func TestBiasDirectionOpposite(t *testing.T) {
	assert.Equal(t, BiasBear, BiasBull.Opposite())
	assert.Equal(t, BiasBull, BiasBear.Opposite())
	assert.Equal(t, BiasNone, BiasNone.Opposite())
}

func TestOrderSpecValidate(t *testing.T) {
	spec := OrderSpec{
		ID:         uuid.NewString(),
		Instrument: "TSLA",
		Side:       PurchaseTypeBuy,
		OrderType:  OrderTypeLimit,
		Quantity:   decimal.NewFromInt(10),
		Price:      decimal.RequireFromString("250.55"),
		StopPrice:  optional.None[decimal.Decimal](),
	}
	assert.NoError(t, spec.Validate())

	noQty := spec
	noQty.Quantity = decimal.Zero
	err := noQty.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidQuantity))

	noPrice := spec
	noPrice.Price = decimal.Zero
	err = noPrice.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPrice))

	market := spec
	market.OrderType = OrderTypeMarket
	market.Price = decimal.Zero
	assert.NoError(t, market.Validate())
}

func TestBracketResultGuarded(t *testing.T) {
	guarded := BracketResult{
		Mode:          BracketModeManual,
		State:         BracketStateActive,
		EntryOrderID:  "1",
		SLOrderID:     optional.Some("2"),
		TargetOrderID: optional.Some("3"),
	}
	assert.True(t, guarded.IsGuarded())

	partial := BracketResult{
		Mode:          BracketModeManual,
		State:         BracketStateFailed,
		EntryOrderID:  "1",
		SLOrderID:     optional.None[string](),
		TargetOrderID: optional.None[string](),
	}
	assert.False(t, partial.IsGuarded())
}

func TestPurchaseTypeOpposite(t *testing.T) {
	assert.Equal(t, PurchaseTypeSell, PurchaseTypeBuy.Opposite())
	assert.Equal(t, PurchaseTypeBuy, PurchaseTypeSell.Opposite())
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
	assert.True(t, OrderStatusFailed.IsTerminal())
}
