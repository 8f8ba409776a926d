package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/pkg/provider"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the per-entry breaker configuration. The entry name
	// overrides CircuitBreaker.Name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels the provider family in metrics and logs: "stt", "llm",
	// "tts".
	Kind string

	// Metrics receives a request count per attempted provider call and an
	// error count per failure. Nil disables recording.
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. When the primary fails (or its circuit breaker is
// open), the next healthy fallback is tried in registration order. A
// non-retryable [provider.PortError] stops the chain: an authentication or
// validation failure would fail identically on every backend, so it
// propagates unchanged instead of burning fallback quota.
//
// Register all entries before first use; FallbackGroup is then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.entries = append(fg.entries, fg.newEntry(primaryName, primary))
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fg.newEntry(name, fallback))
}

// newEntry builds an entry with its own breaker. Breaker state changes are
// recorded as metrics on top of any hook the caller configured.
func (fg *FallbackGroup[T]) newEntry(name string, value T) fallbackEntry[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	callerHook := cbCfg.OnStateChange
	cbCfg.OnStateChange = func(provider string, from, to State) {
		if fg.cfg.Metrics != nil {
			fg.cfg.Metrics.RecordBreakerTransition(context.Background(), provider, fg.cfg.Kind, to.String())
		}
		if callerHook != nil {
			callerHook(provider, from, to)
		}
	}
	return fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)}
}

// Primary returns the first registered provider. Static metadata queries
// (capabilities, voice-safety checks) go to the primary: they describe
// configuration, not health.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// States returns the current circuit-breaker state per provider name.
// Health surfaces report these so an open breaker is visible before callers
// notice degraded audio.
func (fg *FallbackGroup[T]) States() map[string]State {
	states := make(map[string]State, len(fg.entries))
	for i := range fg.entries {
		states[fg.entries[i].name] = fg.entries[i].breaker.State()
	}
	return states
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped without counting as an attempt.
// Returns [ErrAllFailed] wrapped with the last error when every entry fails,
// or the original error unchanged when it is a non-retryable port error or
// ctx ended.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning its result. This is a package-level function because
// Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.record(ctx, entry.name, "ok")
			if i > 0 {
				slog.Info("request served by fallback provider",
					slog.String("kind", fg.cfg.Kind),
					slog.String("provider", entry.name))
			}
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			// No call was made; not a request.
			slog.Debug("skipping provider, circuit open",
				slog.String("kind", fg.cfg.Kind),
				slog.String("provider", entry.name))
			continue
		}

		fg.record(ctx, entry.name, "error")
		if fg.cfg.Metrics != nil {
			fg.cfg.Metrics.RecordProviderError(ctx, entry.name, fg.cfg.Kind)
		}

		if ctx.Err() != nil {
			// The caller gave up; later entries would inherit the same
			// dead context.
			return zero, err
		}
		if !failoverWorthy(err) {
			return zero, err
		}

		slog.Warn("provider failed, trying next",
			slog.String("kind", fg.cfg.Kind),
			slog.String("provider", entry.name),
			slog.Any("error", err))
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, name, status string) {
	if fg.cfg.Metrics == nil {
		return
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, name, fg.cfg.Kind, status)
}

// failoverWorthy reports whether err justifies trying the next provider.
// Errors without a port-error tag default to retry elsewhere.
func failoverWorthy(err error) bool {
	var pe *provider.PortError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
