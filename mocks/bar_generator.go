package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// BarGenerator generates realistic bar series for testing and benchmarking.
type BarGenerator struct {
	rng *rand.Rand
}

// NewBarGenerator creates a new BarGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewBarGenerator(seed int64) *BarGenerator {
	return &BarGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how bars are generated.
type GeneratorConfig struct {
	// StartTime is the open time of the first bar
	StartTime time.Time
	// Granularity is the interval of each bar
	Granularity types.Granularity
	// Count is the number of bars to generate
	Count int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement per bar (0.002 = 0.2%)
	Volatility float64
	// Trend is the drift factor spread across the whole series
	Trend float64
	// VolumeBase is the average volume per bar
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultGeneratorConfig returns a sensible default configuration.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		StartTime:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		Granularity:    types.GranularityM1,
		Count:          1000,
		InitialPrice:   100.0,
		Volatility:     0.002,
		Trend:          0.0,
		VolumeBase:     10000,
		VolumeVariance: 0.3,
	}
}

// Generate creates a bar series following a geometric Brownian motion model.
// Bars are contiguous, right-labeled, and oldest first.
func (g *BarGenerator) Generate(config GeneratorConfig) []types.Bar {
	bars := make([]types.Bar, config.Count)
	interval := config.Granularity.Duration()
	currentPrice := config.InitialPrice
	currentTime := config.StartTime

	for i := 0; i < config.Count; i++ {
		open := currentPrice

		// Box-Muller transform for a normally distributed price change.
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		priceChange := config.Volatility * z
		drift := config.Trend / float64(config.Count)

		closePx := open * (1 + priceChange + drift)
		if closePx <= 0 {
			closePx = open * 0.99
		}

		highExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)
		lowExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)

		high := math.Max(open, closePx) + highExtension

		low := math.Min(open, closePx) - lowExtension
		if low <= 0 {
			low = math.Min(open, closePx) * 0.99
		}

		volumeVariation := 1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance

		volume := config.VolumeBase * volumeVariation
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		bars[i] = types.Bar{
			OpenTime:  currentTime,
			CloseTime: currentTime.Add(interval),
			Open:      roundToDecimals(open, 4),
			High:      roundToDecimals(high, 4),
			Low:       roundToDecimals(low, 4),
			Close:     roundToDecimals(closePx, 4),
			Volume:    roundToDecimals(volume, 2),
		}

		currentPrice = closePx
		currentTime = currentTime.Add(interval)
	}

	return bars
}

// GenerateTrending is a convenience for a series with a clear directional
// drift, useful when a test needs a bullish or bearish tape.
func (g *BarGenerator) GenerateTrending(config GeneratorConfig, trend float64) []types.Bar {
	config.Trend = trend

	return g.Generate(config)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
