package provider

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// binancePageLimit is the maximum klines per request the API allows.
const binancePageLimit = 1000

// BinanceProvider downloads historical klines from the Binance spot API.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider creates an unauthenticated Binance provider. Kline
// endpoints are public.
func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{client: binance.NewClient("", "")}
}

// Bars pages through klines until the requested range is covered. The
// still-forming candle at the right edge is dropped.
func (p *BinanceProvider) Bars(ctx context.Context, req Request) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		interval := req.Granularity.Duration()
		cursor := req.Start
		now := time.Now()

		for cursor.Before(req.End) {
			page, err := p.client.NewKlinesService().
				Symbol(req.Symbol).
				Interval(string(req.Granularity)).
				StartTime(cursor.UnixMilli()).
				EndTime(req.End.UnixMilli()).
				Limit(binancePageLimit).
				Do(ctx)
			if err != nil {
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeHistoricalDataFailed, "failed to fetch klines from Binance", err))

				return
			}

			if len(page) == 0 {
				return
			}

			for _, k := range page {
				bar, convErr := barFromKline(k, req.Symbol, interval)
				if convErr != nil {
					yield(types.Bar{}, convErr)

					return
				}

				if bar.CloseTime.After(now) {
					continue
				}

				if !yield(bar, nil) {
					return
				}
			}

			last := time.UnixMilli(page[len(page)-1].OpenTime).Add(interval)
			if !last.After(cursor) {
				return
			}

			cursor = last

			if len(page) < binancePageLimit {
				return
			}
		}
	}
}

// barFromKline maps a Binance kline to a right-labeled Bar. Binance reports
// CloseTime as openTime+interval-1ms, so the label is rebuilt from OpenTime.
func barFromKline(k *binance.Kline, symbol string, interval time.Duration) (types.Bar, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}

	var parsed [5]float64

	for i, raw := range fields {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeMarketDataParse, err, "unparseable kline field %q for %s", raw, symbol)
		}

		parsed[i] = v
	}

	openTime := time.UnixMilli(k.OpenTime).UTC()

	return types.Bar{
		OpenTime:  openTime,
		CloseTime: openTime.Add(interval),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}
