package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
)

// CircuitState is the state of a provider's circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a provider's breaker rejects calls.
var ErrCircuitOpen = errors.NewStd("circuit breaker is open")

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Cooldown is how long an open circuit waits before a trial call.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the thresholds used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second}
}

// breaker stops calling a provider after repeated failures and lets a single
// trial call through once the cooldown has passed.
type breaker struct {
	config      BreakerConfig
	provider    string
	now         func() time.Time
	log         logger.Logger
	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	trialActive bool
}

func newBreaker(provider string, config BreakerConfig, now func() time.Time, log logger.Logger) *breaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &breaker{config: config, provider: provider, now: now, log: log}
}

// Call runs fn unless the circuit is open.
func (b *breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return errors.New(fmt.Errorf("%s: %w", b.provider, err)).
			Component("notification").
			Category(errors.CategoryLimit).
			Context("provider", b.provider).
			Build()
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.trialActive = true
		return nil
	default:
		if b.trialActive {
			return ErrCircuitOpen
		}
		b.trialActive = true
		return nil
	}
}

func (b *breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialActive = false

	if err == nil {
		b.failures = 0
		b.setState(StateClosed)
		return
	}
	// The caller giving up is not a provider failure.
	if errors.Is(err, context.Canceled) {
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.MaxFailures {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *breaker) setState(state CircuitState) {
	if b.state == state {
		return
	}
	b.log.Info("circuit breaker state changed",
		logger.String("provider", b.provider),
		logger.String("from", b.state.String()),
		logger.String("to", state.String()),
		logger.Int("consecutive_failures", b.failures))
	b.state = state
}

// State returns the current circuit state.
func (b *breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
