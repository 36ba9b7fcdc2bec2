package seqveil

import (
	"fmt"
	"time"
)

type Option func(e *Engine) error

// WithClock replaces the wall clock used for time-prefix quantization.
// Deterministic clocks make composed identifiers reproducible in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return fmt.Errorf("clock function must not be nil")
		}
		e.now = now
		return nil
	}
}

// WithKeySource replaces the default identity-derived key source.
func WithKeySource(source KeySource) Option {
	return func(e *Engine) error {
		if source == nil {
			return fmt.Errorf("key source must not be nil")
		}
		e.keySource = source
		return nil
	}
}

// WithDefaultRounds sets the round count applied to bindings that leave
// Rounds at zero.
func WithDefaultRounds(rounds int) Option {
	return func(e *Engine) error {
		if rounds < MinRounds || rounds > MaxRounds {
			return NewInvalidParameterError("rounds", rounds, fmt.Sprintf("must be within [%d, %d]", MinRounds, MaxRounds))
		}
		e.defaultRounds = rounds
		return nil
	}
}

// WithObservabilityHook installs a hook receiving operation lifecycle events.
func WithObservabilityHook(hook ObservabilityHook) Option {
	return func(e *Engine) error {
		if hook == nil {
			return fmt.Errorf("observability hook must not be nil")
		}
		e.hook = hook
		return nil
	}
}

// WithMetricsCollector installs a metrics collector and, when no explicit
// hook is configured, routes the standard hook into it.
func WithMetricsCollector(metrics MetricsCollector) Option {
	return func(e *Engine) error {
		if metrics == nil {
			return fmt.Errorf("metrics collector must not be nil")
		}
		e.metrics = metrics
		return nil
	}
}
