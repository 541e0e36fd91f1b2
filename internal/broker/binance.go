package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/config"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/ratelimit"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// klinesPageLimit is the broker's maximum klines per request.
const klinesPageLimit = 1000

// quoteAssets are balance entries treated as cash rather than positions.
var quoteAssets = map[string]bool{
	"USDT": true,
	"BUSD": true,
	"USDC": true,
	"USD":  true,
}

// Service interfaces for mocking the Binance API.

// KlinesService interface for fetching historical candles.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(startTime int64) KlinesService
	EndTime(endTime int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// ListPricesService interface for fetching last prices.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	StopPrice(stopPrice string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// CreateOCOService interface for creating server-linked exit pairs.
type CreateOCOService interface {
	Symbol(symbol string) CreateOCOService
	Side(side binance.SideType) CreateOCOService
	Quantity(quantity string) CreateOCOService
	Price(price string) CreateOCOService
	StopPrice(stopPrice string) CreateOCOService
	StopLimitPrice(stopLimitPrice string) CreateOCOService
	StopLimitTimeInForce(tif binance.TimeInForceType) CreateOCOService
	ListClientOrderID(id string) CreateOCOService
	Do(ctx context.Context) (*binance.CreateOCOResponse, error)
}

// GetOrderService interface for querying one order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewKlinesService() KlinesService
	NewListPricesService() ListPricesService
	NewCreateOrderService() CreateOrderService
	NewCreateOCOService() CreateOCOService
	NewGetOrderService() GetOrderService
	NewCancelOrderService() CancelOrderService
	NewGetAccountService() GetAccountService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewKlinesService() KlinesService {
	return &realKlinesService{service: r.client.NewKlinesService()}
}

func (r *realBinanceClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewCreateOCOService() CreateOCOService {
	return &realCreateOCOService{service: r.client.NewCreateOCOService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

// Real service wrappers

type realKlinesService struct {
	service *binance.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.service = s.service.Interval(interval)

	return s
}

func (s *realKlinesService) StartTime(startTime int64) KlinesService {
	s.service = s.service.StartTime(startTime)

	return s
}

func (s *realKlinesService) EndTime(endTime int64) KlinesService {
	s.service = s.service.EndTime(endTime)

	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return s.service.Do(ctx)
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) StopPrice(stopPrice string) CreateOrderService {
	s.service = s.service.StopPrice(stopPrice)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realCreateOCOService struct {
	service *binance.CreateOCOService
}

func (s *realCreateOCOService) Symbol(symbol string) CreateOCOService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOCOService) Side(side binance.SideType) CreateOCOService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOCOService) Quantity(quantity string) CreateOCOService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOCOService) Price(price string) CreateOCOService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOCOService) StopPrice(stopPrice string) CreateOCOService {
	s.service = s.service.StopPrice(stopPrice)

	return s
}

func (s *realCreateOCOService) StopLimitPrice(stopLimitPrice string) CreateOCOService {
	s.service = s.service.StopLimitPrice(stopLimitPrice)

	return s
}

func (s *realCreateOCOService) StopLimitTimeInForce(tif binance.TimeInForceType) CreateOCOService {
	s.service = s.service.StopLimitTimeInForce(tif)

	return s
}

func (s *realCreateOCOService) ListClientOrderID(id string) CreateOCOService {
	s.service = s.service.ListClientOrderID(id)

	return s
}

func (s *realCreateOCOService) Do(ctx context.Context) (*binance.CreateOCOResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

// BinanceGateway implements Gateway on the Binance spot API. Every call is
// guarded: the circuit breaker must allow it, the endpoint limiter must admit
// it, and its outcome feeds back into the breaker.
type BinanceGateway struct {
	client  BinanceClient
	limiter *ratelimit.Limiter
	breaker *ratelimit.CircuitBreaker
	clock   utils.Clock
	logger  *logger.Logger

	// ordersMu guards the order id to symbol index. Binance order queries
	// require the symbol, the Gateway interface works by order id alone.
	ordersMu sync.Mutex
	orders   map[string]string
}

// NewBinanceGateway creates the adapter. useTestnet selects the paper
// environment; cfg.BaseURL takes precedence when set.
func NewBinanceGateway(cfg config.BrokerConfig, deps Deps, useTestnet bool) (*BinanceGateway, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.New(errors.ErrCodeBrokerAuth, "missing broker API credentials")
	}

	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return newBinanceGatewayWithClient(&realBinanceClient{client: client}, deps), nil
}

// newBinanceGatewayWithClient is the testing seam for mock clients.
func newBinanceGatewayWithClient(client BinanceClient, deps Deps) *BinanceGateway {
	return &BinanceGateway{
		client:  client,
		limiter: deps.Limiter,
		breaker: deps.Breaker,
		clock:   deps.Clock,
		logger:  deps.Logger,
		orders:  make(map[string]string),
	}
}

// guard runs fn behind the breaker and the endpoint limiter and records the
// outcome. A breaker rejection or a cancelled limiter wait does not count as
// a broker failure.
func (g *BinanceGateway) guard(ctx context.Context, endpoint string, fn func() error) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}

	if err := g.limiter.Acquire(ctx, endpoint); err != nil {
		return errors.Wrapf(errors.ErrCodeAcquireCancelled, err, "rate limit acquire cancelled for %s", endpoint)
	}

	if err := fn(); err != nil {
		g.breaker.RecordFailure()

		return err
	}

	g.breaker.RecordSuccess()

	return nil
}

// Authenticate verifies connectivity and credentials with an account query.
func (g *BinanceGateway) Authenticate(ctx context.Context) error {
	return g.guard(ctx, ratelimit.EndpointBalance, func() error {
		if _, err := g.client.NewGetAccountService().Do(ctx); err != nil {
			return errors.Wrap(errors.ErrCodeBrokerAuth, "failed to authenticate with Binance", err)
		}

		return nil
	})
}

// HistoricalBars pages through klines until the requested range is covered.
// The still-forming final candle is dropped so only closed bars come back.
func (g *BinanceGateway) HistoricalBars(ctx context.Context, instrument string, granularity types.Granularity, from, to time.Time) ([]types.Bar, error) {
	if err := granularity.Validate(); err != nil {
		return nil, err
	}

	interval := granularity.Duration()
	bars := make([]types.Bar, 0, int(to.Sub(from)/interval)+1)
	cursor := from

	for cursor.Before(to) {
		var page []*binance.Kline

		err := g.guard(ctx, ratelimit.EndpointHistoricalBars, func() error {
			var doErr error

			page, doErr = g.client.NewKlinesService().
				Symbol(instrument).
				Interval(string(granularity)).
				StartTime(cursor.UnixMilli()).
				EndTime(to.UnixMilli()).
				Limit(klinesPageLimit).
				Do(ctx)
			if doErr != nil {
				return errors.Wrap(errors.ErrCodeHistoricalDataFailed, "failed to fetch klines from Binance", doErr)
			}

			return nil
		})
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		for _, k := range page {
			bar, convErr := convertKline(k, interval)
			if convErr != nil {
				return nil, convErr
			}

			// Skip the candle still forming at the right edge.
			if bar.CloseTime.After(g.clock.Now()) {
				continue
			}

			bars = append(bars, bar)
		}

		last := time.UnixMilli(page[len(page)-1].OpenTime).Add(interval)
		if !last.After(cursor) {
			break
		}

		cursor = last

		if len(page) < klinesPageLimit {
			break
		}
	}

	return bars, nil
}

// LastPrice returns the latest trade price for the instrument.
func (g *BinanceGateway) LastPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var price decimal.Decimal

	err := g.guard(ctx, ratelimit.EndpointLastPrice, func() error {
		prices, doErr := g.client.NewListPricesService().Symbol(instrument).Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeBrokerCall, "failed to fetch last price from Binance", doErr)
		}

		if len(prices) == 0 {
			return errors.Newf(errors.ErrCodeBrokerCall, "no price returned for %s", instrument)
		}

		parsed, parseErr := decimal.NewFromString(prices[0].Price)
		if parseErr != nil {
			return errors.Wrapf(errors.ErrCodeMarketDataParse, parseErr, "unparseable price %q for %s", prices[0].Price, instrument)
		}

		price = parsed

		return nil
	})

	return price, err
}

// Positions derives open positions from non-quote asset balances.
func (g *BinanceGateway) Positions(ctx context.Context) ([]types.BrokerPosition, error) {
	var positions []types.BrokerPosition

	err := g.guard(ctx, ratelimit.EndpointPositions, func() error {
		account, doErr := g.client.NewGetAccountService().Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeBrokerCall, "failed to fetch account from Binance", doErr)
		}

		positions = make([]types.BrokerPosition, 0)

		for _, balance := range account.Balances {
			if quoteAssets[balance.Asset] {
				continue
			}

			free, _ := decimal.NewFromString(balance.Free)
			locked, _ := decimal.NewFromString(balance.Locked)

			total := free.Add(locked)
			if total.Sign() > 0 {
				positions = append(positions, types.BrokerPosition{
					Instrument: balance.Asset,
					Quantity:   total,
				})
			}
		}

		return nil
	})

	return positions, err
}

// AccountBalance sums the quote-asset balances.
func (g *BinanceGateway) AccountBalance(ctx context.Context) (types.AccountBalance, error) {
	var out types.AccountBalance

	err := g.guard(ctx, ratelimit.EndpointBalance, func() error {
		account, doErr := g.client.NewGetAccountService().Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeBrokerCall, "failed to fetch account from Binance", doErr)
		}

		total := decimal.Zero
		available := decimal.Zero

		for _, balance := range account.Balances {
			if !quoteAssets[balance.Asset] {
				continue
			}

			free, _ := decimal.NewFromString(balance.Free)
			locked, _ := decimal.NewFromString(balance.Locked)

			total = total.Add(free).Add(locked)
			available = available.Add(free)
		}

		out = types.AccountBalance{Total: total, Available: available}

		return nil
	})

	return out, err
}

// PlaceOrder places one order leg and returns the broker order id.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, spec types.OrderSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	var orderID string

	err := g.guard(ctx, ratelimit.EndpointPlaceOrder, func() error {
		service := g.client.NewCreateOrderService().
			Symbol(spec.Instrument).
			Side(mapSide(spec.Side)).
			Quantity(spec.Quantity.String()).
			NewClientOrderID(spec.ID)

		switch spec.OrderType {
		case types.OrderTypeMarket:
			service = service.Type(binance.OrderTypeMarket)
		case types.OrderTypeLimit:
			service = service.
				Type(binance.OrderTypeLimit).
				Price(spec.Price.String()).
				TimeInForce(binance.TimeInForceTypeGTC)
		case types.OrderTypeStopLimit:
			stop, takeErr := spec.StopPrice.Take()
			if takeErr != nil {
				return errors.New(errors.ErrCodeInvalidOrder, "stop-limit order requires a stop price")
			}

			service = service.
				Type(binance.OrderTypeStopLossLimit).
				Price(spec.Price.String()).
				StopPrice(stop.String()).
				TimeInForce(binance.TimeInForceTypeGTC)
		default:
			return errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type: %s", spec.OrderType)
		}

		resp, doErr := service.Do(ctx)
		if doErr != nil {
			return classifyOrderError(doErr)
		}

		orderID = strconv.FormatInt(resp.OrderID, 10)
		g.rememberOrder(orderID, spec.Instrument)

		return nil
	})

	return orderID, err
}

// PlaceBracketOrder places the entry and then the server-linked exit pair.
// A failed entry surfaces as ErrCodeBracketRejected (deterministic) or
// ErrCodeOrderFailed (transient); a failed exit pair after a filled entry
// returns the partial ids together with ErrCodeExitLegFailed.
func (g *BinanceGateway) PlaceBracketOrder(ctx context.Context, spec types.BracketSpec) (*BracketOrderIDs, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ids := &BracketOrderIDs{}

	err := g.guard(ctx, ratelimit.EndpointPlaceOrder, func() error {
		resp, doErr := g.client.NewCreateOrderService().
			Symbol(spec.Instrument).
			Side(mapSide(spec.Side)).
			Type(binance.OrderTypeMarket).
			Quantity(spec.Quantity.String()).
			Do(ctx)
		if doErr != nil {
			return classifyBracketError(doErr)
		}

		ids.EntryOrderID = strconv.FormatInt(resp.OrderID, 10)
		ids.FilledPrice = avgFillPrice(resp)
		g.rememberOrder(ids.EntryOrderID, spec.Instrument)

		return nil
	})
	if err != nil {
		return nil, err
	}

	exitSide := mapSide(spec.Side.Opposite())
	stopLimit := utils.RoundToTick(offsetThroughStop(spec), spec.TickSize)

	err = g.guard(ctx, ratelimit.EndpointPlaceOrder, func() error {
		resp, doErr := g.client.NewCreateOCOService().
			Symbol(spec.Instrument).
			Side(exitSide).
			Quantity(spec.Quantity.String()).
			Price(spec.Target.String()).
			StopPrice(spec.StopLoss.String()).
			StopLimitPrice(stopLimit.String()).
			StopLimitTimeInForce(binance.TimeInForceTypeGTC).
			Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeExitLegFailed, "failed to place OCO exits on Binance", doErr)
		}

		ids.OCAGroup = strconv.FormatInt(resp.OrderListID, 10)

		for _, report := range resp.OrderReports {
			id := strconv.FormatInt(report.OrderID, 10)
			g.rememberOrder(id, spec.Instrument)

			if report.Type == binance.OrderTypeStopLossLimit {
				ids.SLOrderID = id
			} else {
				ids.TargetOrderID = id
			}
		}

		return nil
	})
	if err != nil {
		// The entry is live and unprotected; the caller decides how loudly
		// to escalate.
		return ids, err
	}

	return ids, nil
}

// OrderStatus returns the status of a previously placed order.
func (g *BinanceGateway) OrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	symbol, ok := g.lookupOrder(orderID)
	if !ok {
		return types.OrderStatusFailed, errors.Newf(errors.ErrCodeOrderNotFound, "unknown order id: %s", orderID)
	}

	id, parseErr := strconv.ParseInt(orderID, 10, 64)
	if parseErr != nil {
		return types.OrderStatusFailed, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order id format", parseErr)
	}

	status := types.OrderStatusFailed

	err := g.guard(ctx, ratelimit.EndpointOrderStatus, func() error {
		order, doErr := g.client.NewGetOrderService().
			Symbol(symbol).
			OrderID(id).
			Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeBrokerCall, "failed to query order from Binance", doErr)
		}

		status = mapOrderStatus(order.Status)

		return nil
	})

	return status, err
}

// CancelOrder cancels a previously placed order.
func (g *BinanceGateway) CancelOrder(ctx context.Context, orderID string) error {
	symbol, ok := g.lookupOrder(orderID)
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "unknown order id: %s", orderID)
	}

	id, parseErr := strconv.ParseInt(orderID, 10, 64)
	if parseErr != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order id format", parseErr)
	}

	return g.guard(ctx, ratelimit.EndpointCancelOrder, func() error {
		_, doErr := g.client.NewCancelOrderService().
			Symbol(symbol).
			OrderID(id).
			Do(ctx)
		if doErr != nil {
			return errors.Wrap(errors.ErrCodeOrderFailed, "failed to cancel order on Binance", doErr)
		}

		return nil
	})
}

// Close releases gateway resources.
func (g *BinanceGateway) Close() error {
	return nil
}

func (g *BinanceGateway) rememberOrder(orderID, symbol string) {
	g.ordersMu.Lock()
	defer g.ordersMu.Unlock()

	g.orders[orderID] = symbol
}

func (g *BinanceGateway) lookupOrder(orderID string) (string, bool) {
	g.ordersMu.Lock()
	defer g.ordersMu.Unlock()

	symbol, ok := g.orders[orderID]

	return symbol, ok
}

// Helper functions

func mapSide(side types.PurchaseType) binance.SideType {
	if side == types.PurchaseTypeBuy {
		return binance.SideTypeBuy
	}

	return binance.SideTypeSell
}

// mapOrderStatus maps Binance order status to our OrderStatus type.
func mapOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPending
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	default:
		return types.OrderStatusFailed
	}
}

// classifyOrderError splits API-level rejections from transport failures so
// the executor knows what is retryable.
func classifyOrderError(err error) error {
	if _, ok := err.(*common.APIError); ok {
		return errors.Wrap(errors.ErrCodeOrderRejected, "order rejected by Binance", err)
	}

	return errors.Wrap(errors.ErrCodeOrderFailed, "failed to place order on Binance", err)
}

func classifyBracketError(err error) error {
	if _, ok := err.(*common.APIError); ok {
		return errors.Wrap(errors.ErrCodeBracketRejected, "bracket entry rejected by Binance", err)
	}

	return errors.Wrap(errors.ErrCodeOrderFailed, "failed to place bracket entry on Binance", err)
}

// convertKline maps a Binance kline to a right-labeled Bar. Binance reports
// CloseTime as openTime+interval-1ms, so the label is rebuilt from OpenTime.
func convertKline(k *binance.Kline, interval time.Duration) (types.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline open", err)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline high", err)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline low", err)
	}

	closePx, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline close", err)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline volume", err)
	}

	openTime := time.UnixMilli(k.OpenTime).UTC()

	return types.Bar{
		OpenTime:  openTime,
		CloseTime: openTime.Add(interval),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, nil
}

// avgFillPrice averages the response fills weighted by quantity; zero when
// the broker reported no fills.
func avgFillPrice(resp *binance.CreateOrderResponse) decimal.Decimal {
	totalQty := decimal.Zero
	totalQuote := decimal.Zero

	for _, fill := range resp.Fills {
		price, priceErr := decimal.NewFromString(fill.Price)
		qty, qtyErr := decimal.NewFromString(fill.Quantity)

		if priceErr != nil || qtyErr != nil {
			continue
		}

		totalQty = totalQty.Add(qty)
		totalQuote = totalQuote.Add(price.Mul(qty))
	}

	if totalQty.Sign() <= 0 {
		return decimal.Zero
	}

	return totalQuote.Div(totalQty)
}

// offsetThroughStop nudges the stop-limit price one tick past the stop so
// the protective leg fills after triggering.
func offsetThroughStop(spec types.BracketSpec) decimal.Decimal {
	if spec.Side == types.PurchaseTypeBuy {
		// Long exit sells: limit a tick below the stop trigger.
		return spec.StopLoss.Sub(spec.TickSize)
	}

	return spec.StopLoss.Add(spec.TickSize)
}

// Ensure BinanceGateway implements Gateway.
var _ Gateway = (*BinanceGateway)(nil)
