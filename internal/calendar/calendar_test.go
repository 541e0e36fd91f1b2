package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestIsTradingDay(t *testing.T) {
	cal := New(ExchangeNYSE, nil)

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"regular weekday", date(2026, time.March, 2), true},
		{"saturday", date(2026, time.March, 7), false},
		{"sunday", date(2026, time.March, 8), false},
		{"christmas", date(2026, time.December, 25), false},
		{"good friday", date(2026, time.April, 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsTradingDay(tt.day))
		})
	}
}

func TestConfiguredHolidaysApply(t *testing.T) {
	cal := New(ExchangeNYSE, []string{"2026-03-04"})

	assert.False(t, cal.IsTradingDay(date(2026, time.March, 4)))
	assert.True(t, cal.IsTradingDay(date(2026, time.March, 5)))
}

func TestNextTradingDaySkipsWeekendAndHoliday(t *testing.T) {
	cal := New(ExchangeNYSE, nil)

	// Thursday before Good Friday 2026: next trading day is Monday.
	next := cal.NextTradingDay(date(2026, time.April, 2))

	assert.Equal(t, date(2026, time.April, 6), next)
	// Clock time and location survive.
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestForTimezone(t *testing.T) {
	nyse := ForTimezone("America/New_York", nil)
	nse := ForTimezone("Asia/Kolkata", nil)
	none := ForTimezone("UTC", nil)

	republicDay := date(2026, time.January, 26)

	assert.True(t, nyse.IsTradingDay(republicDay))
	assert.False(t, nse.IsTradingDay(republicDay))
	assert.True(t, none.IsTradingDay(republicDay))
}
