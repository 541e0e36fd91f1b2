package provider

import (
	"context"
	"iter"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// polygonPageLimit is the maximum aggregates per page Polygon allows.
const polygonPageLimit = 50000

// PolygonProvider downloads historical minute aggregates from Polygon.io.
type PolygonProvider struct {
	client *polygon.Client
}

// NewPolygonProvider creates a Polygon provider. The API key is required.
func NewPolygonProvider(apiKey string) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeMissingParameter, "polygon api key is required")
	}

	return &PolygonProvider{client: polygon.New(apiKey)}, nil
}

// Bars iterates Polygon aggregates for the requested range. Granularities
// are expressed as minute multiples of the aggregate timespan.
func (p *PolygonProvider) Bars(ctx context.Context, req Request) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		interval := req.Granularity.Duration()

		//nolint:exhaustruct // third-party struct with many optional fields
		params := models.ListAggsParams{
			Ticker:     req.Symbol,
			Multiplier: int(interval.Minutes()),
			Timespan:   models.Minute,
			From:       models.Millis(req.Start),
			To:         models.Millis(req.End),
		}.WithLimit(polygonPageLimit)

		aggs := p.client.ListAggs(ctx, params)

		for aggs.Next() {
			agg := aggs.Item()
			openTime := time.Time(agg.Timestamp).UTC()

			bar := types.Bar{
				OpenTime:  openTime,
				CloseTime: openTime.Add(interval),
				Open:      agg.Open,
				High:      agg.High,
				Low:       agg.Low,
				Close:     agg.Close,
				Volume:    agg.Volume,
			}

			if !yield(bar, nil) {
				return
			}
		}

		if err := aggs.Err(); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeHistoricalDataFailed, "failed to iterate polygon aggregates", err))
		}
	}
}
