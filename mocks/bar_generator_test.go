package mocks

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

func TestGenerateProducesValidContiguousBars(t *testing.T) {
	gen := NewBarGenerator(42)
	config := DefaultGeneratorConfig()
	config.Count = 500

	bars := gen.Generate(config)
	require.Len(t, bars, 500)

	interval := config.Granularity.Duration()

	for i, bar := range bars {
		assert.GreaterOrEqual(t, bar.High, math.Max(bar.Open, bar.Close))
		assert.LessOrEqual(t, bar.Low, math.Min(bar.Open, bar.Close))
		assert.Greater(t, bar.Low, 0.0)
		assert.Greater(t, bar.Volume, 0.0)
		assert.True(t, bar.CloseTime.Equal(bar.OpenTime.Add(interval)))

		if i > 0 {
			assert.True(t, bar.OpenTime.Equal(bars[i-1].CloseTime))
		}
	}
}

func TestGenerateIsReproducibleBySeed(t *testing.T) {
	config := DefaultGeneratorConfig()
	config.Count = 100

	first := NewBarGenerator(7).Generate(config)
	second := NewBarGenerator(7).Generate(config)

	assert.Equal(t, first, second)
}

func TestGenerateTrendingDrifts(t *testing.T) {
	config := GeneratorConfig{
		StartTime:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		Granularity:    types.GranularityM5,
		Count:          2000,
		InitialPrice:   100,
		Volatility:     0.0005,
		VolumeBase:     5000,
		VolumeVariance: 0.2,
	}

	gen := NewBarGenerator(42)

	bullish := gen.GenerateTrending(config, 5.0)
	assert.Greater(t, bullish[len(bullish)-1].Close, bullish[0].Open)

	bearish := gen.GenerateTrending(config, -5.0)
	assert.Less(t, bearish[len(bearish)-1].Close, bearish[0].Open)
}
