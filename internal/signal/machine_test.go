package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()

	return NewMachine("TSLA", DefaultConfig(), logger.NewNopLogger())
}

func TestMachineArmsAndSearches(t *testing.T) {
	m := newTestMachine(t)
	bars, feats := biasFixture()
	now := bars[len(bars)-1].CloseTime

	direction := m.EvaluateBias(now, bars, feats)
	require.Equal(t, types.BiasBull, direction)
	assert.Equal(t, types.SignalStateEntrySearch, m.State())

	armed, ok := m.ArmedBias()
	require.True(t, ok)
	assert.Equal(t, types.BiasBull, armed.Direction)
	assert.Equal(t, "TSLA", armed.Instrument)
}

func TestMachineDoesNotArmWithoutBias(t *testing.T) {
	m := newTestMachine(t)
	bars, feats := biasFixture()
	feats[4].RSI = 50 // momentum tier fails

	direction := m.EvaluateBias(bars[4].CloseTime, bars, feats)
	assert.Equal(t, types.BiasNone, direction)
	assert.Equal(t, types.SignalStateIdle, m.State())
}

func TestMachineRearmWindow(t *testing.T) {
	m := newTestMachine(t)
	bars, feats := biasFixture()
	armAt := bars[4].CloseTime

	require.Equal(t, types.BiasBull, m.EvaluateBias(armAt, bars, feats))
	m.Reset()

	// A second detection inside the window is suppressed, even though the
	// machine is idle again.
	direction := m.EvaluateBias(armAt.Add(5*time.Minute), bars, feats)
	assert.Equal(t, types.BiasNone, direction)
	assert.Equal(t, types.SignalStateIdle, m.State())

	// Past the window it arms again.
	direction = m.EvaluateBias(armAt.Add(16*time.Minute), bars, feats)
	assert.Equal(t, types.BiasBull, direction)
	assert.Equal(t, types.SignalStateEntrySearch, m.State())
}

func TestMachineIgnoresBiasDuringSearch(t *testing.T) {
	m := newTestMachine(t)
	bars, feats := biasFixture()
	armAt := bars[4].CloseTime

	require.Equal(t, types.BiasBull, m.EvaluateBias(armAt, bars, feats))

	// While searching, a fresh detection must not re-arm or reset the
	// check counter.
	direction := m.EvaluateBias(armAt.Add(20*time.Minute), bars, feats)
	assert.Equal(t, types.BiasNone, direction)
	assert.Equal(t, types.SignalStateEntrySearch, m.State())
}

func TestMachineEnters(t *testing.T) {
	m := newTestMachine(t)
	biasBars, biasFeats := biasFixture()
	entryBars, entryFeats := entryFixture()

	require.Equal(t, types.BiasBull, m.EvaluateBias(biasBars[4].CloseTime, biasBars, biasFeats))

	entry, outcome, rejection := m.EvaluateEntry(entryBars, entryFeats, types.BiasBull)
	require.NotNil(t, entry, "rejected: %s %s", rejection.Reason, rejection.Details)
	assert.Equal(t, OutcomeEntered, outcome)
	assert.Equal(t, types.SignalStateEntered, m.State())
}

func TestMachineAbortsOnBiasFlip(t *testing.T) {
	m := newTestMachine(t)
	biasBars, biasFeats := biasFixture()
	entryBars, entryFeats := entryFixture()

	require.Equal(t, types.BiasBull, m.EvaluateBias(biasBars[4].CloseTime, biasBars, biasFeats))

	entry, outcome, rejection := m.EvaluateEntry(entryBars, entryFeats, types.BiasBear)
	assert.Nil(t, entry)
	assert.Equal(t, OutcomeAborted, outcome)
	assert.Equal(t, ReasonBiasFlipped, rejection.Reason)
	assert.Equal(t, types.SignalStateAborted, m.State())
}

func TestMachineExpiresAfterMaxChecks(t *testing.T) {
	m := newTestMachine(t)
	biasBars, biasFeats := biasFixture()
	entryBars, entryFeats := entryFixture()

	// Break one entry gate so every check fails.
	entryFeats[4].SMA20 = entryBars[4].Close + 1

	require.Equal(t, types.BiasBull, m.EvaluateBias(biasBars[4].CloseTime, biasBars, biasFeats))

	cfg := DefaultConfig()

	for i := 0; i < cfg.MaxEntryChecks-1; i++ {
		_, outcome, _ := m.EvaluateEntry(entryBars, entryFeats, types.BiasBull)
		require.Equal(t, OutcomeContinue, outcome)
	}

	_, outcome, rejection := m.EvaluateEntry(entryBars, entryFeats, types.BiasBull)
	assert.Equal(t, OutcomeExpired, outcome)
	assert.Equal(t, ReasonPriceBelowStructure, rejection.Reason)
	assert.Equal(t, types.SignalStateExpired, m.State())
}

func TestMachineTerminalSearchCannotRearmImmediately(t *testing.T) {
	m := newTestMachine(t)
	biasBars, biasFeats := biasFixture()
	entryBars, entryFeats := entryFixture()
	armAt := biasBars[4].CloseTime

	require.Equal(t, types.BiasBull, m.EvaluateBias(armAt, biasBars, biasFeats))

	_, outcome, _ := m.EvaluateEntry(entryBars, entryFeats, types.BiasBear)
	require.Equal(t, OutcomeAborted, outcome)

	// The re-arm guard survives the aborted search.
	direction := m.EvaluateBias(armAt.Add(5*time.Minute), biasBars, biasFeats)
	assert.Equal(t, types.BiasNone, direction)
}

func TestMachineRecoversArmedBias(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 3, 2, 14, 40, 0, 0, time.UTC)

	snapshot := types.BiasSnapshot{
		Instrument: "TSLA",
		Direction:  types.BiasBull,
		Time:       now.Add(-10 * time.Minute),
	}

	require.True(t, m.ArmRecovered(snapshot, now, 30*time.Minute))
	assert.Equal(t, types.SignalStateEntrySearch, m.State())

	armed, ok := m.ArmedBias()
	require.True(t, ok)
	assert.Equal(t, types.BiasBull, armed.Direction)
}

func TestMachineRejectsStaleRecoveredBias(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 3, 2, 14, 40, 0, 0, time.UTC)

	snapshot := types.BiasSnapshot{
		Instrument: "TSLA",
		Direction:  types.BiasBull,
		Time:       now.Add(-45 * time.Minute),
	}

	assert.False(t, m.ArmRecovered(snapshot, now, 30*time.Minute))
	assert.Equal(t, types.SignalStateIdle, m.State())
}
