package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Granularity is a supported bar interval.
type Granularity string

const (
	GranularityM1  Granularity = "1m"
	GranularityM5  Granularity = "5m"
	GranularityM15 Granularity = "15m"
	GranularityM30 Granularity = "30m"
)

// Duration returns the wall-clock length of one bar at this granularity.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityM1:
		return time.Minute
	case GranularityM5:
		return 5 * time.Minute
	case GranularityM15:
		return 15 * time.Minute
	case GranularityM30:
		return 30 * time.Minute
	default:
		return 0
	}
}

// Validate checks that the granularity is one of the supported intervals.
func (g Granularity) Validate() error {
	if g.Duration() == 0 {
		return errors.Newf(errors.ErrCodeInvalidGranularity, "unsupported granularity: %s", string(g))
	}

	return nil
}

// Bar is one OHLCV candle. Bars are right-closed and right-labeled: the bar
// with CloseTime 14:30 covers (14:15, 14:30] at 15m granularity. A bar is
// immutable once closed; identity is (instrument, granularity, CloseTime).
type Bar struct {
	OpenTime  time.Time `yaml:"open_time" json:"open_time" csv:"open_time" validate:"required"`
	CloseTime time.Time `yaml:"close_time" json:"close_time" csv:"close_time" validate:"required"`
	Open      float64   `yaml:"open" json:"open" csv:"open" validate:"gte=0"`
	High      float64   `yaml:"high" json:"high" csv:"high" validate:"gte=0"`
	Low       float64   `yaml:"low" json:"low" csv:"low" validate:"gte=0"`
	Close     float64   `yaml:"close" json:"close" csv:"close" validate:"gte=0"`
	Volume    float64   `yaml:"volume" json:"volume" csv:"volume" validate:"gte=0"`
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool {
	return b.Close > b.Open
}

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool {
	return b.Close < b.Open
}

// Body returns the absolute size of the candle body.
func (b Bar) Body() float64 {
	if b.Close > b.Open {
		return b.Close - b.Open
	}

	return b.Open - b.Close
}

// Validate validates the Bar struct.
func (b *Bar) Validate() error {
	validate := validator.New()
	if err := validate.Struct(b); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid bar", err)
	}

	if !b.CloseTime.After(b.OpenTime) {
		return errors.New(errors.ErrCodeInvalidParameter, "bar close time must be after open time")
	}

	return nil
}

// Tick is a single trade print used to build the in-progress 1-minute bar.
type Tick struct {
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}
