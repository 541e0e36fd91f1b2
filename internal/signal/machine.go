package signal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// SearchOutcome is the result of one entry-search step.
type SearchOutcome string

const (
	// OutcomeContinue means the check failed but the search ceiling is not
	// exhausted; the worker sleeps to the next 5-minute boundary.
	OutcomeContinue SearchOutcome = "CONTINUE"
	// OutcomeEntered means an EntrySignal was produced.
	OutcomeEntered SearchOutcome = "ENTERED"
	// OutcomeExpired means the check ceiling was exhausted without success.
	OutcomeExpired SearchOutcome = "EXPIRED"
	// OutcomeAborted means the bias flipped on fresh higher-timeframe data.
	OutcomeAborted SearchOutcome = "ABORTED"
)

// Machine is the per-instrument signal state machine:
//
//	IDLE -> BIAS_ARMED -> ENTRY_SEARCH -> {ENTERED | EXPIRED | ABORTED} -> IDLE
//
// A successful arm is suppressed for the re-arm window regardless of
// direction repeats, preventing duplicate triggers on flat, choppy repeats.
type Machine struct {
	mu         sync.Mutex
	instrument string
	cfg        Config
	bias       *BiasDetector
	entry      *EntryDetector
	logger     *logger.Logger

	state      types.SignalState
	armed      types.BiasSnapshot
	lastArmAt  time.Time
	checksDone int
}

// NewMachine creates the signal machine for one instrument.
func NewMachine(instrument string, cfg Config, log *logger.Logger) *Machine {
	return &Machine{
		instrument: instrument,
		cfg:        cfg,
		bias:       NewBiasDetector(cfg),
		entry:      NewEntryDetector(cfg),
		logger:     log,
		state:      types.SignalStateIdle,
	}
}

// State returns the current machine state.
func (m *Machine) State() types.SignalState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// ArmedBias returns the armed bias snapshot; the second value is false when
// the machine is idle.
func (m *Machine) ArmedBias() (types.BiasSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != types.SignalStateEntrySearch {
		return types.BiasSnapshot{}, false
	}

	return m.armed, true
}

// EvaluateBias runs the bias detector on fresh 15-minute data. When a
// direction is detected and the re-arm guard allows it, the machine arms and
// moves to ENTRY_SEARCH. Returns the armed direction, or BiasNone.
func (m *Machine) EvaluateBias(now time.Time, bars []types.Bar, feats []types.FeatureSnapshot) types.BiasDirection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == types.SignalStateEntrySearch {
		return types.BiasNone
	}

	direction, trace := m.bias.Detect(bars, feats)
	if direction == types.BiasNone {
		m.logger.Debug("no bias",
			zap.String("symbol", m.instrument),
			zap.String("trace", trace),
		)

		return types.BiasNone
	}

	// Re-arm guard: one arm per window, regardless of direction.
	if !m.lastArmAt.IsZero() && now.Sub(m.lastArmAt) < m.cfg.RearmWindow {
		m.logger.Debug("bias suppressed by re-arm window",
			zap.String("symbol", m.instrument),
			zap.String("direction", string(direction)),
			zap.Time("last_arm", m.lastArmAt),
		)

		return types.BiasNone
	}

	m.armLocked(types.BiasSnapshot{
		Instrument: m.instrument,
		Direction:  direction,
		Time:       now,
		BarClose:   bars[len(bars)-1].Close,
	}, now)

	m.logger.Info("bias armed",
		zap.String("symbol", m.instrument),
		zap.String("direction", string(direction)),
		zap.String("trace", trace),
	)

	return direction
}

// ArmRecovered arms the machine from a persisted bias after a restart. The
// bias must be younger than maxAge; stale snapshots are ignored.
func (m *Machine) ArmRecovered(snapshot types.BiasSnapshot, now time.Time, maxAge time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == types.SignalStateEntrySearch || snapshot.Direction == types.BiasNone {
		return false
	}

	if maxAge <= 0 || now.Sub(snapshot.Time) > maxAge {
		return false
	}

	m.armLocked(snapshot, snapshot.Time)

	m.logger.Info("recovered armed bias after restart",
		zap.String("symbol", m.instrument),
		zap.String("direction", string(snapshot.Direction)),
		zap.Time("armed_at", snapshot.Time),
	)

	return true
}

func (m *Machine) armLocked(snapshot types.BiasSnapshot, armedAt time.Time) {
	m.armed = snapshot
	m.lastArmAt = armedAt
	m.checksDone = 0
	m.state = types.SignalStateEntrySearch
}

// EvaluateEntry runs one entry check. freshBias is the direction detected on
// fresh 15-minute data immediately before the call; a flip aborts the search.
// The returned signal is non-nil only for OutcomeEntered.
func (m *Machine) EvaluateEntry(bars []types.Bar, feats []types.FeatureSnapshot, freshBias types.BiasDirection) (*types.EntrySignal, SearchOutcome, Rejection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != types.SignalStateEntrySearch {
		return nil, OutcomeExpired, Rejection{Reason: ReasonInsufficientData}
	}

	// Re-validate the bias before anything else: if the higher timeframe
	// flipped against the armed direction, abort immediately.
	if freshBias != types.BiasNone && freshBias != m.armed.Direction {
		m.terminateLocked(types.SignalStateAborted)

		m.logger.Info("entry search aborted: bias flipped",
			zap.String("symbol", m.instrument),
			zap.String("armed", string(m.armed.Direction)),
			zap.String("fresh", string(freshBias)),
		)

		return nil, OutcomeAborted, Rejection{Reason: ReasonBiasFlipped}
	}

	m.checksDone++

	entry, rejection := m.entry.Detect(m.instrument, bars, feats, m.armed.Direction)
	if entry != nil {
		m.terminateLocked(types.SignalStateEntered)

		m.logger.Info("entry confirmed",
			zap.String("symbol", m.instrument),
			zap.String("direction", string(entry.Direction)),
			zap.String("price", entry.Price.String()),
			zap.Strings("confirmations", entry.Reasons),
		)

		return entry, OutcomeEntered, Rejection{Reason: ReasonNone}
	}

	m.logger.Debug("entry check rejected",
		zap.String("symbol", m.instrument),
		zap.Int("check", m.checksDone),
		zap.String("reason", string(rejection.Reason)),
		zap.String("details", rejection.Details),
	)

	if m.checksDone >= m.cfg.MaxEntryChecks {
		m.terminateLocked(types.SignalStateExpired)

		return nil, OutcomeExpired, rejection
	}

	return nil, OutcomeContinue, rejection
}

// Reset forces the machine back to IDLE, keeping the re-arm guard timestamp.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = types.SignalStateIdle
	m.checksDone = 0
}

// terminateLocked ends the search in a terminal state. The machine re-arms
// from terminal states on the next bias evaluation; the lastArmAt guard
// deliberately survives so a terminal search cannot immediately re-arm.
func (m *Machine) terminateLocked(state types.SignalState) {
	m.state = state
	m.checksDone = 0
}
