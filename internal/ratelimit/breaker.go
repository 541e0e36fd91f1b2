package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/utils"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// BreakerState is the circuit breaker's externally visible state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker, default 5.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting trial
	// calls, default 60s.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// CircuitBreaker trips after consecutive broker failures so a broken upstream
// is not hammered with doomed calls. After the cooldown it half-opens: trial
// calls are admitted, and the first recorded success closes it again.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	clock  utils.Clock
	logger *logger.Logger
	// onOpen fires outside the lock when the breaker trips.
	onOpen func(consecutiveFailures int)

	failures int
	openedAt time.Time
	open     bool
}

// NewCircuitBreaker creates a closed breaker. onOpen may be nil.
func NewCircuitBreaker(cfg BreakerConfig, clock utils.Clock, log *logger.Logger, onOpen func(int)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}

	return &CircuitBreaker{
		cfg:    cfg,
		clock:  clock,
		logger: log,
		onOpen: onOpen,
	}
}

// Allow reports whether a call may proceed. While open and inside the
// cooldown it fails fast with ErrCodeBreakerOpen; after the cooldown it
// admits trial calls without closing.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	if b.clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
		return errors.Newf(errors.ErrCodeBreakerOpen,
			"circuit breaker open after %d consecutive failures", b.failures)
	}

	// Half-open: the call proceeds as a trial.
	return nil
}

// RecordSuccess closes the breaker and clears the failure streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		b.logger.Info("circuit breaker closed after successful trial call")
	}

	b.open = false
	b.failures = 0
}

// RecordFailure extends the failure streak and opens the breaker at the
// threshold. A failed trial call while half-open re-opens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()

	b.failures++

	wasOpen := b.open
	trip := b.failures >= b.cfg.FailureThreshold

	if trip {
		b.open = true
		b.openedAt = b.clock.Now()
	}

	failures := b.failures
	notify := trip && !wasOpen && b.onOpen != nil

	b.mu.Unlock()

	if trip && wasOpen {
		// Failed trial call while half-open: cooldown restarts quietly.
		return
	}

	if trip {
		b.logger.Warn("circuit breaker open",
			zap.Int("consecutive_failures", failures),
			zap.Duration("cooldown", b.cfg.Cooldown),
		)
	}

	if notify {
		b.onOpen(failures)
	}
}

// State returns the breaker state as of now.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return BreakerClosed
	}

	if b.clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
		return BreakerOpen
	}

	return BreakerHalfOpen
}
