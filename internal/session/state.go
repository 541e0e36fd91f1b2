// Package session tracks what happened during one trading day: which
// instruments traded, which positions are open, and how the local view
// reconciles against broker truth across restarts.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// DateFormat keys session state by trading date.
const DateFormat = "2006-01-02"

// Snapshot is the serializable daily state.
type Snapshot struct {
	Date          string   `json:"date"`
	TradedSymbols []string `json:"traded_symbols"`
	OpenPositions []string `json:"open_positions"`
	TotalTrades   int      `json:"total_trades"`
	// ArmedBiases are in-flight bias detections, kept so a restart can resume
	// an entry search instead of waiting for the next 15-minute arm.
	ArmedBiases []types.BiasSnapshot `json:"armed_biases,omitempty"`
}

// Store persists daily snapshots.
type Store interface {
	// Save persists the snapshot for its date.
	Save(ctx context.Context, snapshot Snapshot) error
	// Load returns the snapshot for the date; ok is false when absent.
	Load(ctx context.Context, date string) (Snapshot, bool, error)
	// Prune drops snapshots older than keep.
	Prune(ctx context.Context, now time.Time, keep time.Duration) error
	// Close releases store resources.
	Close() error
}

// State is the mutable daily session state. Every mutation persists through
// the store; persistence failures are logged, never propagated, because a
// broken state file must not stop trading.
type State struct {
	mu     sync.Mutex
	store  Store
	logger *logger.Logger

	date        string
	instruments []string
	traded      map[string]bool
	open        map[string]bool
	biases      map[string]types.BiasSnapshot
	totalTrades int
}

// NewState creates the state for one trading date, loading any persisted
// snapshot for that date first. instruments is the configured universe used
// to map broker positions back onto tracked symbols.
func NewState(ctx context.Context, store Store, date time.Time, instruments []string, log *logger.Logger) *State {
	s := &State{
		store:       store,
		logger:      log,
		date:        date.Format(DateFormat),
		instruments: instruments,
		traded:      make(map[string]bool),
		open:        make(map[string]bool),
		biases:      make(map[string]types.BiasSnapshot),
	}

	snapshot, ok, err := store.Load(ctx, s.date)
	if err != nil {
		log.Warn("failed to load persisted session state, starting fresh",
			zap.String("date", s.date),
			zap.Error(err),
		)

		return s
	}

	if ok {
		for _, symbol := range snapshot.TradedSymbols {
			s.traded[symbol] = true
		}

		for _, symbol := range snapshot.OpenPositions {
			s.open[symbol] = true
		}

		for _, bias := range snapshot.ArmedBiases {
			s.biases[bias.Instrument] = bias
		}

		s.totalTrades = snapshot.TotalTrades

		log.Info("recovered session state",
			zap.String("date", s.date),
			zap.Strings("traded", snapshot.TradedSymbols),
			zap.Strings("open", snapshot.OpenPositions),
		)
	}

	return s
}

// Date returns the trading date this state covers.
func (s *State) Date() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.date
}

// MarkTraded records that the instrument traded today.
func (s *State) MarkTraded(ctx context.Context, instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.traded[instrument] {
		s.traded[instrument] = true
		s.totalTrades++
	}

	s.persistLocked(ctx)
}

// MarkOpened records an open position.
func (s *State) MarkOpened(ctx context.Context, instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open[instrument] = true
	s.persistLocked(ctx)
}

// MarkClosed clears an open position.
func (s *State) MarkClosed(ctx context.Context, instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.open, instrument)
	s.persistLocked(ctx)
}

// IsTraded reports whether the instrument already traded today.
func (s *State) IsTraded(instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.traded[instrument]
}

// HasOpen reports whether the instrument has an open position.
func (s *State) HasOpen(instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open[instrument]
}

// OpenPositions returns the open instruments, sorted order not guaranteed.
func (s *State) OpenPositions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.open))
	for symbol := range s.open {
		out = append(out, symbol)
	}

	return out
}

// TotalTrades returns the number of instruments traded today.
func (s *State) TotalTrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalTrades
}

// RecordBias persists an armed bias so a restart can resume the search.
func (s *State) RecordBias(ctx context.Context, bias types.BiasSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.biases[bias.Instrument] = bias
	s.persistLocked(ctx)
}

// ClearBias drops the persisted bias for an instrument once its search ends.
func (s *State) ClearBias(ctx context.Context, instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.biases[instrument]; !ok {
		return
	}

	delete(s.biases, instrument)
	s.persistLocked(ctx)
}

// ArmedBias returns the persisted bias for an instrument, if any.
func (s *State) ArmedBias(instrument string) (types.BiasSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bias, ok := s.biases[instrument]

	return bias, ok
}

// SyncWithBroker reconciles local state against the broker's positions.
// An empty broker list against non-empty local state is suspect (a broker
// hiccup, not a mass close) and preserves local state. Otherwise the open
// set is rebuilt from broker truth: a local symbol stays open when some
// broker position matches it, and every matched symbol counts as traded.
func (s *State) SyncWithBroker(ctx context.Context, positions []types.BrokerPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(positions) == 0 {
		if len(s.open) > 0 {
			s.logger.Warn("broker reported no positions while local state has open ones, keeping local state",
				zap.Strings("open", keys(s.open)),
			)
		}

		return
	}

	rebuilt := make(map[string]bool)

	for _, position := range positions {
		for _, symbol := range s.instruments {
			if matches(symbol, position.Instrument) {
				rebuilt[symbol] = true
			}
		}
	}

	s.open = rebuilt

	// Broker-held instruments count as traded so one_trade_per_day survives
	// restarts.
	for symbol := range rebuilt {
		if !s.traded[symbol] {
			s.traded[symbol] = true
			s.totalTrades++
		}
	}

	s.persistLocked(ctx)
}

// Snapshot returns the serializable view.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	biases := make([]types.BiasSnapshot, 0, len(s.biases))
	for _, bias := range s.biases {
		biases = append(biases, bias)
	}

	return Snapshot{
		Date:          s.date,
		TradedSymbols: keys(s.traded),
		OpenPositions: keys(s.open),
		TotalTrades:   s.totalTrades,
		ArmedBiases:   biases,
	}
}

func (s *State) persistLocked(ctx context.Context) {
	if err := s.store.Save(ctx, s.snapshotLocked()); err != nil {
		s.logger.Warn("failed to persist session state",
			zap.String("date", s.date),
			zap.Error(err),
		)
	}
}

// matches reports whether a tracked symbol corresponds to a broker position
// instrument. Broker spot positions report the base asset, so containment
// covers TSLA vs TSLAUSDT style mismatches.
func matches(symbol, brokerInstrument string) bool {
	if symbol == brokerInstrument {
		return true
	}

	return strings.Contains(strings.ToUpper(symbol), strings.ToUpper(brokerInstrument))
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	return out
}
