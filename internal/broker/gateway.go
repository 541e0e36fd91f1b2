// Package broker defines the gateway every trading session talks through and
// the concrete adapters behind it. All adapter calls are guarded by the
// circuit breaker and the endpoint rate limiter.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/ratelimit"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
)

// BracketOrderIDs is the broker-side identity of a natively placed bracket.
type BracketOrderIDs struct {
	EntryOrderID  string
	SLOrderID     string
	TargetOrderID string
	OCAGroup      string
	// FilledPrice is the observed entry fill price when the broker reports
	// fills, else zero.
	FilledPrice decimal.Decimal
}

// Gateway is the broker surface the rest of the system depends on.
type Gateway interface {
	// Authenticate verifies connectivity and credentials.
	Authenticate(ctx context.Context) error
	// HistoricalBars returns closed bars for (from, to], oldest first.
	HistoricalBars(ctx context.Context, instrument string, granularity types.Granularity, from, to time.Time) ([]types.Bar, error)
	// LastPrice returns the latest trade price.
	LastPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
	// Positions returns every open position the broker reports.
	Positions(ctx context.Context) ([]types.BrokerPosition, error)
	// AccountBalance returns the account snapshot.
	AccountBalance(ctx context.Context) (types.AccountBalance, error)
	// PlaceOrder places one order leg and returns the broker order id.
	PlaceOrder(ctx context.Context, spec types.OrderSpec) (string, error)
	// PlaceBracketOrder places entry plus server-linked exits in one shot.
	// A deterministic rejection carries ErrCodeBracketRejected so the caller
	// can fall back to manual leg placement.
	PlaceBracketOrder(ctx context.Context, spec types.BracketSpec) (*BracketOrderIDs, error)
	// OrderStatus returns the status of a previously placed order.
	OrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error)
	// CancelOrder cancels a previously placed order.
	CancelOrder(ctx context.Context, orderID string) error
	// Close releases gateway resources.
	Close() error
}

// GatewayType selects a concrete adapter.
type GatewayType string

const (
	GatewayBinancePaper GatewayType = "binance-paper"
	GatewayBinanceLive  GatewayType = "binance-live"
)

// GatewayInfo is adapter metadata for diagnostics and the ops surface.
type GatewayInfo struct {
	Name           string `json:"name"`
	DisplayName    string `json:"displayName"`
	Description    string `json:"description"`
	IsPaperTrading bool   `json:"isPaperTrading"`
}

var gatewayRegistry = map[GatewayType]GatewayInfo{
	GatewayBinancePaper: {
		Name:           string(GatewayBinancePaper),
		DisplayName:    "Binance Testnet",
		Description:    "Binance testnet for paper trading without real funds",
		IsPaperTrading: true,
	},
	GatewayBinanceLive: {
		Name:           string(GatewayBinanceLive),
		DisplayName:    "Binance Live",
		Description:    "Binance live environment for real-funds trading",
		IsPaperTrading: false,
	},
}

// SupportedGateways lists the registered adapter names.
func SupportedGateways() []string {
	names := make([]string, 0, len(gatewayRegistry))
	for t := range gatewayRegistry {
		names = append(names, string(t))
	}

	return names
}

// GetGatewayInfo returns metadata for one adapter.
func GetGatewayInfo(name string) (GatewayInfo, error) {
	info, exists := gatewayRegistry[GatewayType(name)]
	if !exists {
		return GatewayInfo{}, fmt.Errorf("unsupported broker gateway: %s", name)
	}

	return info, nil
}

// Deps are the shared guards every adapter composes.
type Deps struct {
	Limiter *ratelimit.Limiter
	Breaker *ratelimit.CircuitBreaker
	Clock   utils.Clock
	Logger  *logger.Logger
}

// NewGateway creates the adapter named by cfg.Type.
func NewGateway(cfg config.BrokerConfig, deps Deps) (Gateway, error) {
	switch GatewayType(cfg.Type) {
	case GatewayBinancePaper:
		return NewBinanceGateway(cfg, deps, true)
	case GatewayBinanceLive:
		return NewBinanceGateway(cfg, deps, false)
	default:
		return nil, fmt.Errorf("unsupported broker gateway: %s", cfg.Type)
	}
}
