package marketdata

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata/provider"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata/writer"
)

type stubProvider struct {
	bars []types.Bar
	err  error
}

func (s *stubProvider) Bars(_ context.Context, _ provider.Request) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		for _, bar := range s.bars {
			if !yield(bar, nil) {
				return
			}
		}

		if s.err != nil {
			yield(types.Bar{}, s.err)
		}
	}
}

func stubBars(start time.Time, count int) []types.Bar {
	bars := make([]types.Bar, 0, count)

	for i := 0; i < count; i++ {
		open := start.Add(time.Duration(i) * time.Minute)
		bars = append(bars, types.Bar{
			OpenTime:  open,
			CloseTime: open.Add(time.Minute),
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    500,
		})
	}

	return bars
}

func testRequest() provider.Request {
	return provider.Request{
		Symbol:      "TSLAUSDT",
		Granularity: types.GranularityM1,
		Start:       time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func newStubClient(t *testing.T, cfg Config, p provider.Provider) *Client {
	t.Helper()

	client, err := NewClient(cfg)
	require.NoError(t, err)

	client.provider = p

	return client
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(Config{Provider: "binance", Format: "parquet", OutputDir: "data"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestNewClientRequiresPolygonAPIKey(t *testing.T) {
	_, err := NewClient(Config{Provider: provider.TypePolygon, Format: FormatCSV, OutputDir: "data"})
	require.Error(t, err)
}

func TestDownloadWritesCSV(t *testing.T) {
	dir := t.TempDir()
	client := newStubClient(t, Config{
		Provider:  provider.TypeBinance,
		Format:    FormatCSV,
		OutputDir: dir,
	}, &stubProvider{bars: stubBars(testRequest().Start, 4)})

	path, count, err := client.Download(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 4, count)
	assert.Equal(t, filepath.Join(dir, "TSLAUSDT_1m_2026-03-02_2026-03-02.csv"), path)
	assert.FileExists(t, path)
}

func TestDownloadWarmsDuckDBCache(t *testing.T) {
	dir := t.TempDir()
	req := testRequest()

	client := newStubClient(t, Config{
		Provider:  provider.TypeBinance,
		Format:    FormatDuckDB,
		OutputDir: dir,
	}, &stubProvider{bars: stubBars(req.Start, 6)})

	path, count, err := client.Download(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 6, count)

	loaded, err := writer.ReadBars(path, req.Symbol, req.Granularity, req.Start, req.End)
	require.NoError(t, err)
	assert.Len(t, loaded, 6)
}

func TestDownloadSurfacesProviderError(t *testing.T) {
	req := testRequest()
	providerErr := errors.New(errors.ErrCodeHistoricalDataFailed, "upstream gone")

	client := newStubClient(t, Config{
		Provider:  provider.TypeBinance,
		Format:    FormatCSV,
		OutputDir: t.TempDir(),
	}, &stubProvider{bars: stubBars(req.Start, 2), err: providerErr})

	_, count, err := client.Download(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, 2, count)
	assert.True(t, errors.HasCode(err, errors.ErrCodeHistoricalDataFailed))
}

func TestDownloadRejectsInvalidRequest(t *testing.T) {
	client := newStubClient(t, Config{
		Provider:  provider.TypeBinance,
		Format:    FormatCSV,
		OutputDir: t.TempDir(),
	}, &stubProvider{})

	req := testRequest()
	req.End = req.Start

	_, _, err := client.Download(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParameter))
}
