package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

func TestNewSelectsProvider(t *testing.T) {
	binance, err := New(TypeBinance, "")
	require.NoError(t, err)
	assert.IsType(t, &BinanceProvider{}, binance)

	polygon, err := New(TypePolygon, "test-key")
	require.NoError(t, err)
	assert.IsType(t, &PolygonProvider{}, polygon)

	_, err = New("csv", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidProvider))
}

func TestNewPolygonProviderRequiresAPIKey(t *testing.T) {
	_, err := NewPolygonProvider("")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMissingParameter))
}

func TestRequestValidate(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid",
			req: Request{
				Symbol:      "TSLAUSDT",
				Granularity: types.GranularityM5,
				Start:       start,
				End:         start.Add(time.Hour),
			},
		},
		{
			name: "missing symbol",
			req: Request{
				Granularity: types.GranularityM5,
				Start:       start,
				End:         start.Add(time.Hour),
			},
			wantErr: true,
		},
		{
			name: "unsupported granularity",
			req: Request{
				Symbol:      "TSLAUSDT",
				Granularity: "2h",
				Start:       start,
				End:         start.Add(time.Hour),
			},
			wantErr: true,
		},
		{
			name: "end not after start",
			req: Request{
				Symbol:      "TSLAUSDT",
				Granularity: types.GranularityM5,
				Start:       start,
				End:         start,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
