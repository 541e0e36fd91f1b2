// Package provider implements historical bar download backends. Providers
// page through a remote data source and yield closed bars oldest first.
package provider

import (
	"context"
	"iter"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Type names a download backend.
type Type string

const (
	TypeBinance Type = "binance"
	TypePolygon Type = "polygon"
)

// Request describes one historical download. The yielded bars cover
// (Start, End] at the requested granularity.
type Request struct {
	Symbol      string
	Granularity types.Granularity
	Start       time.Time
	End         time.Time
}

// Validate checks that the request is well formed.
func (r Request) Validate() error {
	if r.Symbol == "" {
		return errors.New(errors.ErrCodeMissingParameter, "symbol is required")
	}

	if err := r.Granularity.Validate(); err != nil {
		return err
	}

	if !r.End.After(r.Start) {
		return errors.New(errors.ErrCodeInvalidParameter, "end must be after start")
	}

	return nil
}

// Provider yields closed bars for a request.
type Provider interface {
	// Bars returns an iterator over the requested range, oldest bar first.
	// Iteration stops at the first yielded error. Cancel ctx to abort a
	// download mid flight.
	Bars(ctx context.Context, req Request) iter.Seq2[types.Bar, error]
}

// New creates the provider named by t. Polygon requires an API key; the
// Binance public market data endpoints do not.
func New(t Type, apiKey string) (Provider, error) {
	switch t {
	case TypeBinance:
		return NewBinanceProvider(), nil
	case TypePolygon:
		return NewPolygonProvider(apiKey)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported market data provider: %s", string(t))
	}
}
