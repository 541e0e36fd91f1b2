package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const (
	// defaultStreamURL is the Binance combined-stream endpoint.
	defaultStreamURL = "wss://stream.binance.com:9443"
	// streamReadTimeout bounds how long a healthy stream may stay silent;
	// kline events arrive at least every couple of seconds per symbol.
	streamReadTimeout = 2 * time.Minute
)

// BarHandler receives every closed 1-minute bar from the stream.
type BarHandler func(instrument string, bar types.Bar)

// klineEvent is the kline payload of a combined-stream message.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

// combinedMessage wraps events on the combined-stream endpoint.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// dialer abstracts websocket dialing for tests.
type dialer interface {
	DialContext(ctx context.Context, urlStr string) (streamConn, error)
}

// streamConn is the subset of *websocket.Conn the stream uses.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, urlStr string) (streamConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// KlineStream subscribes to 1-minute klines for a set of instruments and
// forwards closed bars to the handler. It reconnects with exponential
// backoff; a persistently failing stream returns so the caller can degrade
// to REST polling without stopping the session.
type KlineStream struct {
	baseURL     string
	instruments []string
	handler     BarHandler
	logger      *logger.Logger
	dial        dialer
}

// NewKlineStream creates a stream for the given instruments. baseURL falls
// back to the production endpoint when empty.
func NewKlineStream(baseURL string, instruments []string, handler BarHandler, log *logger.Logger) *KlineStream {
	if baseURL == "" {
		baseURL = defaultStreamURL
	}

	return &KlineStream{
		baseURL:     baseURL,
		instruments: instruments,
		handler:     handler,
		logger:      log,
		dial:        gorillaDialer{},
	}
}

func (s *KlineStream) url() string {
	streams := make([]string, 0, len(s.instruments))
	for _, instrument := range s.instruments {
		streams = append(streams, strings.ToLower(instrument)+"@kline_1m")
	}

	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Run connects and pumps events until ctx is cancelled or the backoff gives
// up on reconnecting.
func (s *KlineStream) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Minute

	policy := backoff.WithContext(bo, ctx)

	operation := func() error {
		err := s.pump(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		s.logger.Warn("kline stream disconnected, reconnecting",
			zap.Error(err),
		)

		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return errors.Wrap(errors.ErrCodeStreamClosed, "kline stream gave up reconnecting", err)
	}

	return nil
}

// pump runs one connection until it breaks.
func (s *KlineStream) pump(ctx context.Context) error {
	conn, err := s.dial.DialContext(ctx, s.url())
	if err != nil {
		return err
	}

	defer conn.Close()

	s.logger.Info("kline stream connected",
		zap.Strings("instruments", s.instruments),
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		s.dispatch(payload)
	}
}

// dispatch decodes one combined-stream message and forwards the bar when the
// kline is final. Malformed messages are logged and skipped.
func (s *KlineStream) dispatch(payload []byte) {
	var wrapper combinedMessage
	if err := json.Unmarshal(payload, &wrapper); err != nil || len(wrapper.Data) == 0 {
		s.logger.Debug("skipping unparseable stream message", zap.Error(err))

		return
	}

	var event klineEvent
	if err := json.Unmarshal(wrapper.Data, &event); err != nil || event.EventType != "kline" {
		return
	}

	if !event.Kline.Final {
		return
	}

	bar, err := convertStreamKline(event)
	if err != nil {
		s.logger.Warn("skipping unparseable kline event",
			zap.String("symbol", event.Symbol),
			zap.Error(err),
		)

		return
	}

	s.handler(event.Symbol, bar)
}

func convertStreamKline(event klineEvent) (types.Bar, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline open", err)
	}

	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline high", err)
	}

	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline low", err)
	}

	closePx, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline close", err)
	}

	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParse, "unparseable kline volume", err)
	}

	openTime := time.UnixMilli(event.Kline.OpenTime).UTC()

	return types.Bar{
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, nil
}
