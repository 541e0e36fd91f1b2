package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

var sessionDate = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newFileState(t *testing.T) (*State, *FileStore) {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	state := NewState(context.Background(), store, sessionDate, []string{"TSLAUSDT", "NVDAUSDT"}, logger.NewNopLogger())

	return state, store
}

func TestStateMarksAndQueries(t *testing.T) {
	state, _ := newFileState(t)
	ctx := context.Background()

	assert.False(t, state.IsTraded("TSLAUSDT"))
	assert.False(t, state.HasOpen("TSLAUSDT"))

	state.MarkTraded(ctx, "TSLAUSDT")
	state.MarkOpened(ctx, "TSLAUSDT")

	assert.True(t, state.IsTraded("TSLAUSDT"))
	assert.True(t, state.HasOpen("TSLAUSDT"))
	assert.Equal(t, 1, state.TotalTrades())

	state.MarkClosed(ctx, "TSLAUSDT")
	assert.False(t, state.HasOpen("TSLAUSDT"))
	// Closing does not forget that the instrument traded today.
	assert.True(t, state.IsTraded("TSLAUSDT"))
}

func TestStateSurvivesRestart(t *testing.T) {
	state, store := newFileState(t)
	ctx := context.Background()

	state.MarkTraded(ctx, "TSLAUSDT")
	state.MarkOpened(ctx, "TSLAUSDT")

	restarted := NewState(ctx, store, sessionDate, []string{"TSLAUSDT", "NVDAUSDT"}, logger.NewNopLogger())

	assert.True(t, restarted.IsTraded("TSLAUSDT"))
	assert.True(t, restarted.HasOpen("TSLAUSDT"))
	assert.Equal(t, 1, restarted.TotalTrades())
}

func TestArmedBiasSurvivesRestart(t *testing.T) {
	state, store := newFileState(t)
	ctx := context.Background()

	bias := types.BiasSnapshot{
		Instrument: "TSLAUSDT",
		Direction:  types.BiasBull,
		Time:       sessionDate.Add(45 * time.Minute),
		BarClose:   104.5,
	}

	state.RecordBias(ctx, bias)

	restarted := NewState(ctx, store, sessionDate, []string{"TSLAUSDT", "NVDAUSDT"}, logger.NewNopLogger())

	recovered, ok := restarted.ArmedBias("TSLAUSDT")
	require.True(t, ok)
	assert.Equal(t, bias, recovered)

	restarted.ClearBias(ctx, "TSLAUSDT")

	_, ok = restarted.ArmedBias("TSLAUSDT")
	assert.False(t, ok)
}

func TestSyncWithBrokerEmptyResponsePreservesLocalState(t *testing.T) {
	state, _ := newFileState(t)
	ctx := context.Background()

	state.MarkOpened(ctx, "TSLAUSDT")

	// An empty broker response is suspect, never a reason to drop tracking.
	state.SyncWithBroker(ctx, nil)

	assert.True(t, state.HasOpen("TSLAUSDT"))
}

func TestSyncWithBrokerRebuildsFromBrokerTruth(t *testing.T) {
	state, _ := newFileState(t)
	ctx := context.Background()

	state.MarkOpened(ctx, "TSLAUSDT")

	// Broker reports the base asset of the other instrument only: the local
	// TSLA position is gone, NVDA is open and counts as traded.
	state.SyncWithBroker(ctx, []types.BrokerPosition{
		{Instrument: "NVDA", Quantity: decimal.NewFromInt(5)},
	})

	assert.False(t, state.HasOpen("TSLAUSDT"))
	assert.True(t, state.HasOpen("NVDAUSDT"))
	assert.True(t, state.IsTraded("NVDAUSDT"))
}

func TestSyncWithBrokerIgnoresUnknownAssets(t *testing.T) {
	state, _ := newFileState(t)
	ctx := context.Background()

	state.SyncWithBroker(ctx, []types.BrokerPosition{
		{Instrument: "DOGE", Quantity: decimal.NewFromInt(1000)},
	})

	assert.Empty(t, state.OpenPositions())
	assert.Equal(t, 0, state.TotalTrades())
}

func TestFileStorePrune(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	old := Snapshot{Date: "2026-02-20"}
	recent := Snapshot{Date: "2026-03-01"}

	require.NoError(t, store.Save(ctx, old))
	require.NoError(t, store.Save(ctx, recent))

	require.NoError(t, store.Prune(ctx, sessionDate, 7*24*time.Hour))

	_, ok, err := store.Load(ctx, "2026-02-20")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Load(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)

	ctx := context.Background()

	store, err := NewRedisStore(ctx, server.Addr(), "", 0, 7*24*time.Hour)
	require.NoError(t, err)

	defer store.Close()

	snapshot := Snapshot{
		Date:          "2026-03-02",
		TradedSymbols: []string{"TSLAUSDT"},
		OpenPositions: []string{"TSLAUSDT"},
		TotalTrades:   1,
	}

	require.NoError(t, store.Save(ctx, snapshot))

	loaded, ok, err := store.Load(ctx, "2026-03-02")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot, loaded)

	// TTL is set so the server prunes old dates by itself.
	assert.Greater(t, server.TTL("meridian:session:2026-03-02"), time.Duration(0))

	_, ok, err = store.Load(ctx, "2026-03-03")
	require.NoError(t, err)
	assert.False(t, ok)
}
