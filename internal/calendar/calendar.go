// Package calendar answers whether an exchange trades on a given date.
// Weekends are always closed; holidays come from a built-in per-exchange
// table plus whatever extra dates the configuration supplies.
package calendar

import (
	"time"
)

// Exchange selects a built-in holiday table.
type Exchange string

const (
	ExchangeNYSE Exchange = "NYSE"
	ExchangeNSE  Exchange = "NSE"
	// ExchangeNone trades every weekday; only configured holidays apply.
	ExchangeNone Exchange = "NONE"
)

const dateFormat = "2006-01-02"

// Calendar reports trading days for one exchange.
type Calendar struct {
	holidays map[string]bool
}

// New builds a calendar from the exchange's built-in holiday table plus
// extra dates in 2006-01-02 format. Unparseable extra dates are ignored;
// config validation rejects them upstream.
func New(exchange Exchange, extra []string) *Calendar {
	holidays := make(map[string]bool)

	for _, day := range exchangeHolidays[exchange] {
		holidays[day] = true
	}

	for _, day := range extra {
		if _, err := time.Parse(dateFormat, day); err == nil {
			holidays[day] = true
		}
	}

	return &Calendar{holidays: holidays}
}

// ForTimezone picks the exchange table matching a market timezone.
func ForTimezone(timezone string, extra []string) *Calendar {
	switch timezone {
	case "America/New_York":
		return New(ExchangeNYSE, extra)
	case "Asia/Kolkata":
		return New(ExchangeNSE, extra)
	default:
		return New(ExchangeNone, extra)
	}
}

// IsTradingDay reports whether the exchange trades on the date. The time of
// day and location of the argument are taken as-is; callers pass market time.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}

	return !c.holidays[date.Format(dateFormat)]
}

// NextTradingDay returns the first trading day strictly after the date,
// preserving the clock time and location of the argument.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	next := date.AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
