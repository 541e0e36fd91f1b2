package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds a price to the nearest multiple of the instrument's tick
// size, half away from zero. A zero or negative tick size returns the price
// unchanged.
func RoundToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}

	ticks := price.Div(tickSize).Round(0)

	return ticks.Mul(tickSize)
}

// WithinBand reports whether a price lies inside the inclusive [lower, upper]
// band. A zero band bound disables that side of the check.
func WithinBand(price, lower, upper decimal.Decimal) bool {
	if lower.Sign() > 0 && price.LessThan(lower) {
		return false
	}

	if upper.Sign() > 0 && price.GreaterThan(upper) {
		return false
	}

	return true
}

// RoundToDecimalPrecision rounds a float to the given number of decimal places.
// Used when converting quantities for broker APIs that reject excess precision.
func RoundToDecimalPrecision(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))

	return math.Round(value*factor) / factor
}
