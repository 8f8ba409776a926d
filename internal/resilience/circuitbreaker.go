// Package resilience keeps live calls running when a speech or language
// backend degrades.
//
// The central type is [CircuitBreaker], a three-state breaker (closed, open,
// half-open) that stops hammering a backend that keeps failing.
// [FallbackGroup] composes several providers of the same kind (STT, LLM or
// TTS) with per-entry breakers so a failing primary is bypassed in favour of
// healthy fallbacks; [LLMFallback], [STTFallback] and [TTSFallback] wrap a
// group behind the corresponding provider interface so the rest of the
// pipeline never sees the failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed, or when the half-open probe
// budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change notifications.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget in the half-open state and the
	// number of successes needed to close. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every state transition. It
	// runs outside the breaker's lock, so it may inspect the breaker but its
	// ordering against concurrent transitions is not guaranteed.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu           sync.Mutex
	state        State
	failures     int // consecutive, while closed
	lastFailure  time.Time
	probeCalls   int // issued while half-open
	probeResults int // successes while half-open
}

// NewCircuitBreaker creates a [CircuitBreaker], replacing zero config fields
// with the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker allows it. While open it returns
// [ErrCircuitOpen] without calling fn; while half-open it admits fn only
// within the probe budget.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed, moving an expired open breaker
// to half-open first. It reports whether the call counts as a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	notify := noTransition

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		notify = cb.transition(StateHalfOpen)
		cb.probeCalls = 0
		cb.probeResults = 0

	case StateHalfOpen:
		if cb.probeCalls >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probeCalls++
		probe = true
	}
	cb.mu.Unlock()

	notify()
	return probe, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, callErr error) {
	cb.mu.Lock()
	notify := noTransition

	switch {
	case callErr != nil && probe:
		// One failed probe re-opens; the backend is clearly not recovered.
		cb.lastFailure = time.Now()
		cb.failures = cb.cfg.MaxFailures
		notify = cb.transition(StateOpen)

	case callErr != nil:
		cb.lastFailure = time.Now()
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			notify = cb.transition(StateOpen)
		}

	case probe:
		cb.probeResults++
		if cb.probeResults >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			notify = cb.transition(StateClosed)
		}

	default:
		cb.failures = 0
	}
	cb.mu.Unlock()

	notify()
}

// transition switches states and returns the notification to run once the
// lock is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", cb.cfg.Name, "from", from.String(), "to", to.String())
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, from, to)
		}
	}
}

// noTransition is the no-op notification for paths that change no state.
func noTransition() {}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := noTransition
	if cb.state != StateClosed {
		notify = cb.transition(StateClosed)
	}
	cb.failures = 0
	cb.probeCalls = 0
	cb.probeResults = 0
	cb.mu.Unlock()

	notify()
}
