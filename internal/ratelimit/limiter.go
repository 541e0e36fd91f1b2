package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/utils"
)

// Endpoint names shared between the limiter table and the broker gateways.
const (
	EndpointHistoricalBars = "historical-bars"
	EndpointLastPrice      = "last-price"
	EndpointPlaceOrder     = "place-order"
	EndpointModifyOrder    = "modify-order"
	EndpointCancelOrder    = "cancel-order"
	EndpointOrderStatus    = "order-status"
	EndpointPositions      = "positions"
	EndpointBalance        = "balance"
	EndpointOrderBook      = "order-book"
)

// WindowLimit declares one window of an endpoint's quota.
type WindowLimit struct {
	Limit  int
	Window time.Duration
}

// endpointLimits mirrors the broker's documented per-endpoint quotas.
var endpointLimits = map[string][]WindowLimit{
	EndpointHistoricalBars: {{3, time.Second}, {180, time.Minute}, {5000, time.Hour}},
	EndpointLastPrice:      {{10, time.Second}, {500, time.Minute}, {5000, time.Hour}},
	EndpointPlaceOrder:     {{20, time.Second}, {500, time.Minute}, {1000, time.Hour}},
	EndpointModifyOrder:    {{20, time.Second}, {500, time.Minute}, {1000, time.Hour}},
	EndpointCancelOrder:    {{20, time.Second}, {500, time.Minute}, {1000, time.Hour}},
	EndpointOrderStatus:    {{10, time.Second}, {500, time.Minute}},
	EndpointPositions:      {{1, time.Second}},
	EndpointBalance:        {{2, time.Second}},
	EndpointOrderBook:      {{1, time.Second}},
}

// EndpointLimiter enforces every window of one endpoint's quota. Acquire
// waits out the slowest window before recording the call in all of them.
type EndpointLimiter struct {
	mu      sync.Mutex
	name    string
	clock   utils.Clock
	windows []*RateWindow
}

// NewEndpointLimiter builds a limiter from the given window limits, each
// scaled down by margin (0 < margin <= 1) to keep headroom under the
// documented quota.
func NewEndpointLimiter(name string, limits []WindowLimit, margin float64, clock utils.Clock) *EndpointLimiter {
	if margin <= 0 || margin > 1 {
		margin = 1
	}

	windows := make([]*RateWindow, 0, len(limits))

	for _, l := range limits {
		scaled := int(float64(l.Limit) * margin)
		if scaled < 1 {
			scaled = 1
		}

		windows = append(windows, NewRateWindow(scaled, l.Window))
	}

	return &EndpointLimiter{name: name, clock: clock, windows: windows}
}

// Acquire blocks until every window admits one more call, then records the
// call. It returns early with ctx.Err() on cancellation; a cancelled acquire
// records nothing.
func (l *EndpointLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := l.clock.Now()
		wait := time.Duration(0)

		for _, w := range l.windows {
			if d := w.WaitTime(now); d > wait {
				wait = d
			}
		}

		if wait == 0 {
			for _, w := range l.windows {
				w.Record(now)
			}

			l.mu.Unlock()

			return nil
		}

		l.mu.Unlock()

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// utilization returns the highest per-window utilization.
func (l *EndpointLimiter) utilization(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	max := 0.0

	for _, w := range l.windows {
		if u := w.Utilization(now); u > max {
			max = u
		}
	}

	return max
}

// Config tunes the limiter table.
type Config struct {
	// SafetyMargin scales every documented limit down, default 0.9.
	SafetyMargin float64
}

// DefaultConfig returns the production limiter settings.
func DefaultConfig() Config {
	return Config{SafetyMargin: 0.9}
}

// Limiter routes named endpoints to their EndpointLimiter. Unknown endpoints
// are admitted with a warning so a new gateway call can never deadlock the
// session on a missing table entry.
type Limiter struct {
	endpoints map[string]*EndpointLimiter
	clock     utils.Clock
	logger    *logger.Logger

	warnMu sync.Mutex
	warned map[string]bool
}

// NewLimiter builds the endpoint table from the documented quotas.
func NewLimiter(cfg Config, clock utils.Clock, log *logger.Logger) *Limiter {
	endpoints := make(map[string]*EndpointLimiter, len(endpointLimits))

	for name, limits := range endpointLimits {
		endpoints[name] = NewEndpointLimiter(name, limits, cfg.SafetyMargin, clock)
	}

	return &Limiter{
		endpoints: endpoints,
		clock:     clock,
		logger:    log,
		warned:    make(map[string]bool),
	}
}

// Acquire blocks until the named endpoint admits one more call.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	el, ok := l.endpoints[endpoint]
	if !ok {
		l.warnUnknown(endpoint)

		return nil
	}

	return el.Acquire(ctx)
}

func (l *Limiter) warnUnknown(endpoint string) {
	l.warnMu.Lock()
	defer l.warnMu.Unlock()

	if l.warned[endpoint] {
		return
	}

	l.warned[endpoint] = true
	l.logger.Warn("no rate limit configured for endpoint, admitting",
		zap.String("endpoint", endpoint),
	)
}

// Stats returns per-endpoint utilization lines for status reports, sorted by
// endpoint name.
func (l *Limiter) Stats() []string {
	now := l.clock.Now()

	names := make([]string, 0, len(l.endpoints))
	for name := range l.endpoints {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]string, 0, len(names))

	for _, name := range names {
		out = append(out, fmt.Sprintf("%s: %.0f%%", name, l.endpoints[name].utilization(now)*100))
	}

	return out
}
