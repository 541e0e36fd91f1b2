// Package marketdata downloads historical bars from a remote provider and
// persists them locally as CSV or a DuckDB bar cache.
package marketdata

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/schollz/progressbar/v3"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata/provider"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata/writer"
)

// Format selects the local storage format for downloaded bars.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatDuckDB Format = "duckdb"
)

// Config holds the client configuration.
type Config struct {
	Provider      provider.Type `validate:"required,oneof=binance polygon"`
	Format        Format        `validate:"required,oneof=csv duckdb"`
	OutputDir     string        `validate:"required"`
	PolygonAPIKey string        `validate:"required_if=Provider polygon"`
	// ShowProgress renders a terminal progress bar during downloads.
	ShowProgress bool
}

// Client orchestrates one provider and one writer per download.
type Client struct {
	cfg      Config
	provider provider.Provider
	validate *validator.Validate
}

// NewClient creates a client for the configured provider.
func NewClient(cfg Config) (*Client, error) {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid market data client configuration", err)
	}

	p, err := provider.New(cfg.Provider, cfg.PolygonAPIKey)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		provider: p,
		validate: validate,
	}, nil
}

// Download streams the requested range into the configured format and
// returns the path of the produced artifact along with the bar count.
func (c *Client) Download(ctx context.Context, req provider.Request) (string, int, error) {
	if err := req.Validate(); err != nil {
		return "", 0, err
	}

	w := c.newWriter(req)
	if err := w.Initialize(); err != nil {
		return "", 0, err
	}

	defer w.Close()

	bar := c.newProgressBar(req)
	count := 0

	for b, err := range c.provider.Bars(ctx, req) {
		if err != nil {
			return "", count, err
		}

		if err := w.Write(b); err != nil {
			return "", count, err
		}

		count++

		_ = bar.Add(1)
	}

	_ = bar.Finish()

	path, err := w.Finalize()
	if err != nil {
		return "", count, err
	}

	return path, count, nil
}

func (c *Client) newWriter(req provider.Request) writer.BarWriter {
	if c.cfg.Format == FormatDuckDB {
		return writer.NewDuckDBWriter(filepath.Join(c.cfg.OutputDir, "bars.duckdb"), req.Symbol, req.Granularity)
	}

	name := fmt.Sprintf("%s_%s_%s_%s.csv",
		req.Symbol,
		string(req.Granularity),
		req.Start.Format("2006-01-02"),
		req.End.Format("2006-01-02"))

	return writer.NewCSVWriter(filepath.Join(c.cfg.OutputDir, name))
}

func (c *Client) newProgressBar(req provider.Request) *progressbar.ProgressBar {
	if !c.cfg.ShowProgress {
		return progressbar.DefaultSilent(-1)
	}

	expected := int64(req.End.Sub(req.Start) / req.Granularity.Duration())

	return progressbar.NewOptions64(expected,
		progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s %s", req.Symbol, string(req.Granularity))),
		progressbar.OptionShowCount(),
	)
}
