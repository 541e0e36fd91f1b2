// Package market owns the per-instrument rolling bar series. One Aggregator
// exists per instrument; it is the single writer for that instrument's
// 1-minute series and serves derived 5/15/30-minute views of it.
package market

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/indicator"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Config tunes one aggregator.
type Config struct {
	// MaxBars bounds the retained 1-minute series; oldest bars are evicted.
	MaxBars int
	// CompletenessBuffer is how far wall-clock time must be past a derived
	// bar's close before the bar is considered complete.
	CompletenessBuffer time.Duration
}

type featureCacheEntry struct {
	lastClose time.Time
	bars      []types.Bar
	snaps     []types.FeatureSnapshot
}

// Aggregator builds and serves rolling OHLCV bar series for one instrument.
// All mutating operations hold one mutex so tick-driven updates never
// interleave with bulk fetches.
type Aggregator struct {
	mu      sync.Mutex
	symbol  string
	cfg     Config
	engine  indicator.Engine
	logger  *logger.Logger
	bars    []types.Bar // closed 1m bars, ascending by CloseTime
	current *types.Bar  // in-progress bar built from ticks
	// featureCache avoids recomputing indicators until a new derived bar
	// closes at that granularity.
	featureCache map[types.Granularity]featureCacheEntry
}

// NewAggregator creates an aggregator for one instrument.
func NewAggregator(symbol string, cfg Config, engine indicator.Engine, log *logger.Logger) *Aggregator {
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = 2880
	}

	return &Aggregator{
		symbol:       symbol,
		cfg:          cfg,
		engine:       engine,
		logger:       log,
		bars:         make([]types.Bar, 0, cfg.MaxBars),
		current:      nil,
		featureCache: make(map[types.Granularity]featureCacheEntry),
	}
}

// Symbol returns the instrument this aggregator serves.
func (a *Aggregator) Symbol() string {
	return a.symbol
}

// Append ingests one closed 1-minute bar. It is idempotent: a bar whose
// CloseTime is not strictly after the last appended bar is rejected with a
// coded error the callers treat as skip.
func (a *Aggregator) Append(bar types.Bar) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.appendLocked(bar)
}

func (a *Aggregator) appendLocked(bar types.Bar) error {
	if len(a.bars) > 0 {
		last := a.bars[len(a.bars)-1].CloseTime

		if bar.CloseTime.Equal(last) {
			return errors.Newf(errors.ErrCodeBarDuplicate,
				"%s: duplicate bar at %s", a.symbol, bar.CloseTime.Format(time.RFC3339))
		}

		if bar.CloseTime.Before(last) {
			return errors.Newf(errors.ErrCodeBarOutOfOrder,
				"%s: bar at %s is older than last %s", a.symbol,
				bar.CloseTime.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}

	a.bars = append(a.bars, bar)
	a.evictLocked()

	return nil
}

func (a *Aggregator) evictLocked() {
	if overflow := len(a.bars) - a.cfg.MaxBars; overflow > 0 {
		a.bars = append(a.bars[:0], a.bars[overflow:]...)
	}
}

// LoadHistorical bulk-initializes the 1-minute series. The input is sorted
// and de-duplicated by CloseTime; the existing series is replaced.
func (a *Aggregator) LoadHistorical(bars []types.Bar) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})

	deduped := sorted[:0]

	for _, bar := range sorted {
		if len(deduped) > 0 && bar.CloseTime.Equal(deduped[len(deduped)-1].CloseTime) {
			continue
		}

		deduped = append(deduped, bar)
	}

	a.bars = deduped
	a.evictLocked()
	a.featureCache = make(map[types.Granularity]featureCacheEntry)

	if a.logger != nil {
		a.logger.Info("loaded historical bars",
			zap.String("symbol", a.symbol),
			zap.Int("bars", len(a.bars)),
		)
	}
}

// ProcessTick folds a trade print into the in-progress 1-minute bar and
// closes that bar once a tick crosses the minute boundary.
func (a *Aggregator) ProcessTick(tick types.Tick) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	closeTime := minuteCloseFor(tick.Time)

	if a.current != nil && closeTime.After(a.current.CloseTime) {
		finished := *a.current
		a.current = nil

		if err := a.appendLocked(finished); err != nil && !errors.HasCode(err, errors.ErrCodeBarDuplicate) {
			return err
		}
	}

	if a.current == nil {
		a.current = &types.Bar{
			OpenTime:  closeTime.Add(-time.Minute),
			CloseTime: closeTime,
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
			Volume:    tick.Volume,
		}

		return nil
	}

	if tick.Price > a.current.High {
		a.current.High = tick.Price
	}

	if tick.Price < a.current.Low {
		a.current.Low = tick.Price
	}

	a.current.Close = tick.Price
	a.current.Volume += tick.Volume

	return nil
}

// FinalizeCurrent force-closes the in-progress bar, if any. Called at session
// end so the final partial minute is not lost.
func (a *Aggregator) FinalizeCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return
	}

	finished := *a.current
	a.current = nil

	if err := a.appendLocked(finished); err != nil && a.logger != nil {
		a.logger.Warn("dropping unappendable final bar",
			zap.String("symbol", a.symbol),
			zap.Error(err),
		)
	}
}

// Len returns the number of retained closed 1-minute bars.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.bars)
}

// LastCloseTime returns the CloseTime of the newest retained 1-minute bar and
// false when the series is empty.
func (a *Aggregator) LastCloseTime() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.bars) == 0 {
		return time.Time{}, false
	}

	return a.bars[len(a.bars)-1].CloseTime, true
}

// Derive resamples the retained 1-minute series into the requested
// granularity (open=first, high=max, low=min, close=last, volume=sum over
// right-closed, right-labeled windows). The trailing derived bar is dropped
// unless asOf has passed its CloseTime plus the completeness buffer, so an
// in-progress bar is never handed to the signal layer.
func (a *Aggregator) Derive(granularity types.Granularity, asOf time.Time) ([]types.Bar, error) {
	if err := granularity.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.deriveLocked(granularity, asOf), nil
}

func (a *Aggregator) deriveLocked(granularity types.Granularity, asOf time.Time) []types.Bar {
	if granularity == types.GranularityM1 {
		return a.completeOnly(append([]types.Bar(nil), a.bars...), asOf)
	}

	interval := granularity.Duration()
	derived := make([]types.Bar, 0, len(a.bars)/int(interval/time.Minute)+1)

	for _, bar := range a.bars {
		label := windowCloseFor(bar.CloseTime, interval)

		if len(derived) == 0 || !derived[len(derived)-1].CloseTime.Equal(label) {
			derived = append(derived, types.Bar{
				OpenTime:  label.Add(-interval),
				CloseTime: label,
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    bar.Volume,
			})

			continue
		}

		agg := &derived[len(derived)-1]

		if bar.High > agg.High {
			agg.High = bar.High
		}

		if bar.Low < agg.Low {
			agg.Low = bar.Low
		}

		agg.Close = bar.Close
		agg.Volume += bar.Volume
	}

	return a.completeOnly(derived, asOf)
}

// completeOnly drops the trailing bar while wall-clock time has not yet
// passed its close plus the completeness buffer.
func (a *Aggregator) completeOnly(bars []types.Bar, asOf time.Time) []types.Bar {
	for len(bars) > 0 {
		last := bars[len(bars)-1]
		if !asOf.Before(last.CloseTime.Add(a.cfg.CompletenessBuffer)) {
			break
		}

		bars = bars[:len(bars)-1]
	}

	return bars
}

// DeriveWithFeatures derives complete bars and their indicator snapshots. The
// snapshots are cached per granularity keyed by the last bar's CloseTime, so
// indicators are recomputed only when a new bar at that granularity closes.
func (a *Aggregator) DeriveWithFeatures(granularity types.Granularity, asOf time.Time) ([]types.Bar, []types.FeatureSnapshot, error) {
	if err := granularity.Validate(); err != nil {
		return nil, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bars := a.deriveLocked(granularity, asOf)
	if len(bars) == 0 {
		return nil, nil, errors.NewInsufficientDataErrorf(1, 0, a.symbol,
			"%s: no complete %s bars as of %s", a.symbol, granularity, asOf.Format(time.RFC3339))
	}

	lastClose := bars[len(bars)-1].CloseTime

	if cached, ok := a.featureCache[granularity]; ok && cached.lastClose.Equal(lastClose) && len(cached.bars) == len(bars) {
		return cached.bars, cached.snaps, nil
	}

	snaps, err := a.engine.Compute(bars)
	if err != nil {
		return nil, nil, err
	}

	a.featureCache[granularity] = featureCacheEntry{
		lastClose: lastClose,
		bars:      bars,
		snaps:     snaps,
	}

	return bars, snaps, nil
}

// minuteCloseFor maps a tick timestamp to the CloseTime of the 1-minute bar
// that owns it under right-closed labeling: a tick exactly on the minute
// belongs to the bar closing at that minute.
func minuteCloseFor(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}

	return truncated.Add(time.Minute)
}

// windowCloseFor maps a 1-minute bar CloseTime to its derived-window label.
func windowCloseFor(closeTime time.Time, interval time.Duration) time.Time {
	truncated := closeTime.Truncate(interval)
	if truncated.Equal(closeTime) {
		return closeTime
	}

	return truncated.Add(interval)
}
