package audit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DuckDBStore {
	t.Helper()

	store, err := NewDuckDBStore(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func testEntry(id string, ts time.Time) Entry {
	return Entry{
		ID:         id,
		Timestamp:  ts,
		Instrument: "TSLAUSDT",
		Bias:       "BULL",
		OrderID:    "order-" + id,
		Entry:      decimal.NewFromFloat(100.50),
		Stop:       decimal.NewFromFloat(98.49),
		Target:     decimal.NewFromFloat(104.52),
		Outcome:    OutcomeOpen,
		Details:    "vwap,volume,rsi",
	}
}

func TestRecordAndTradesOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, testEntry("t1", day)))
	require.NoError(t, store.Record(ctx, testEntry("t2", day.Add(2*time.Hour))))
	// Next day, must not appear.
	require.NoError(t, store.Record(ctx, testEntry("t3", day.Add(24*time.Hour))))

	trades, err := store.TradesOn(ctx, day)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
	assert.Equal(t, "TSLAUSDT", trades[0].Instrument)
	assert.Equal(t, OutcomeOpen, trades[0].Outcome)
	assert.True(t, trades[0].Entry.Equal(decimal.NewFromFloat(100.50)))
}

func TestMarkOutcome(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, testEntry("t1", day)))
	require.NoError(t, store.MarkOutcome(ctx, "t1", decimal.NewFromFloat(104.52), OutcomeTarget))

	trades, err := store.TradesOn(ctx, day)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, OutcomeTarget, trades[0].Outcome)
	assert.True(t, trades[0].ExitPrice.Equal(decimal.NewFromFloat(104.52)))
}

func TestTradesOnEmptyDay(t *testing.T) {
	store := newTestStore(t)

	trades, err := store.TradesOn(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, trades)
}
