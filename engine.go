package seqveil

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Engine evaluates the keyed permutation under one installation salt.
//
// All methods are safe for concurrent use: the engine holds only read-only
// configuration, and every operation is a bounded, CPU-only computation. The
// nullable signatures propagate NULL in, NULL out, matching how the
// database-side functions treat absent source values.
type Engine struct {
	salt          uint32
	defaultRounds int
	keySource     KeySource
	now           func() time.Time
	hook          ObservabilityHook
	metrics       MetricsCollector
}

// New creates an Engine for the given installation salt.
//
// The salt is shared by every binding of an installation and must never
// change once identifiers exist; it is validated to the same 31-bit range as
// binding keys. Unspecified options default to the wall clock, the
// identity-derived key source and no-op observability.
func New(salt uint32, options ...Option) (*Engine, error) {
	if salt > MaxKey {
		return nil, NewInvalidParameterError("salt", salt, fmt.Sprintf("must be below 2^%d", KeyBits))
	}

	engine := &Engine{
		salt:          salt,
		defaultRounds: DefaultRounds,
		keySource:     DerivedKeySource{},
		now:           time.Now,
	}

	for i, opt := range options {
		if err := opt(engine); err != nil {
			return nil, fmt.Errorf("invalid option %d: %w", i+1, err)
		}
	}

	if engine.metrics == nil {
		engine.metrics = &NoOpMetricsCollector{}
	}
	if engine.hook == nil {
		if _, noop := engine.metrics.(*NoOpMetricsCollector); noop {
			engine.hook = &NoOpObservabilityHook{}
		} else {
			engine.hook = NewStandardObservabilityHook(engine.metrics)
		}
	}

	return engine, nil
}

// Salt returns the installation salt.
func (e *Engine) Salt() uint32 {
	return e.salt
}

// ResolveKey resolves the permutation key for a binding identity through the
// configured key source and checks it fits the 31-bit key range.
func (e *Engine) ResolveKey(ctx context.Context, identity BindingIdentity) (uint32, error) {
	var key uint32
	err := e.observe(ctx, "resolve_key", map[string]string{"binding": identity.String()}, func() error {
		k, err := e.keySource.ResolveKey(ctx, identity)
		if err != nil {
			return err
		}
		if k > MaxKey {
			return NewInvalidParameterError("key", k, fmt.Sprintf("key source returned a key outside [0, 2^%d)", KeyBits))
		}
		key = k
		return nil
	})
	return key, err
}

// ComposeIdentifier derives the identifier for a source value under a
// binding at the engine's current clock reading. A NULL source yields a NULL
// identifier. Every composed identifier is decomposed again before being
// returned; a mismatch aborts with ReversibilityFault instead of handing out
// a value that would not invert.
func (e *Engine) ComposeIdentifier(ctx context.Context, source sql.NullInt64, binding Binding) (sql.NullInt64, error) {
	var out sql.NullInt64
	err := e.observe(ctx, "compose", bindingAttrs(binding), func() error {
		if err := e.normalizeBinding(&binding); err != nil {
			return err
		}
		if !source.Valid {
			return nil
		}
		id, err := e.composeChecked(source.Int64, binding)
		if err != nil {
			return err
		}
		out = Int64(id)
		return nil
	})
	return out, err
}

// DecomposeIdentifier takes a composed identifier apart, recovering the
// source value and quantized time prefix. A NULL identifier yields nil.
func (e *Engine) DecomposeIdentifier(ctx context.Context, id sql.NullInt64, binding Binding) (*Decomposed, error) {
	var out *Decomposed
	err := e.observe(ctx, "decompose", bindingAttrs(binding), func() error {
		if err := e.normalizeBinding(&binding); err != nil {
			return err
		}
		if !id.Valid {
			return nil
		}
		dec, err := Decompose(id.Int64, binding.Params, e.salt)
		if err != nil {
			return err
		}
		out = &dec
		return nil
	})
	return out, err
}

// PermuteValue applies the bare permutation under the engine salt, with NULL
// propagation.
func (e *Engine) PermuteValue(ctx context.Context, value sql.NullInt64, bits int, key uint32, rounds int) (sql.NullInt64, error) {
	var out sql.NullInt64
	err := e.observe(ctx, "permute", nil, func() error {
		if !value.Valid {
			return nil
		}
		v, err := Permute(value.Int64, bits, key, e.salt, rounds)
		if err != nil {
			return err
		}
		out = Int64(v)
		return nil
	})
	return out, err
}

// UnpermuteValue inverts PermuteValue, with NULL propagation.
func (e *Engine) UnpermuteValue(ctx context.Context, value sql.NullInt64, bits int, key uint32, rounds int) (sql.NullInt64, error) {
	var out sql.NullInt64
	err := e.observe(ctx, "unpermute", nil, func() error {
		if !value.Valid {
			return nil
		}
		v, err := Unpermute(value.Int64, bits, key, e.salt, rounds)
		if err != nil {
			return err
		}
		out = Int64(v)
		return nil
	})
	return out, err
}

// VerifyIdentifier audits a stored (source, identifier) pair: the identifier
// must decompose back to exactly that source, and NULLs must pair with
// NULLs. A mismatch is reported as DerivedColumnTamperedWith.
func (e *Engine) VerifyIdentifier(ctx context.Context, source, id sql.NullInt64, binding Binding) error {
	return e.observe(ctx, "verify", bindingAttrs(binding), func() error {
		if err := e.normalizeBinding(&binding); err != nil {
			return err
		}
		if !source.Valid && !id.Valid {
			return nil
		}
		if source.Valid != id.Valid {
			return fmt.Errorf("%w: column '%s' holds %s for source %s",
				ErrDerivedColumnTamperedWith, binding.Target, formatNullInt64(id), formatNullInt64(source))
		}
		dec, err := Decompose(id.Int64, binding.Params, e.salt)
		if err != nil {
			return err
		}
		if dec.Source != source.Int64 {
			return fmt.Errorf("%w: column '%s' holds %d, which inverts to %d instead of source %d",
				ErrDerivedColumnTamperedWith, binding.Target, id.Int64, dec.Source, source.Int64)
		}
		return nil
	})
}

// composeChecked composes and then proves the identifier inverts to its
// source before anything gets written. The check failing means the engine
// itself is defective for this configuration, so it must be loud.
func (e *Engine) composeChecked(source int64, b Binding) (int64, error) {
	id, err := Compose(source, e.now(), b.Params, e.salt)
	if err != nil {
		return 0, err
	}
	dec, err := Decompose(id, b.Params, e.salt)
	if err != nil || dec.Source != source {
		return 0, NewReversibilityFaultError(b.Target, id)
	}
	return id, nil
}

// normalizeBinding applies engine defaults, then validates.
func (e *Engine) normalizeBinding(b *Binding) error {
	if b.Rounds == 0 {
		b.Rounds = e.defaultRounds
	}
	return b.Validate()
}

func (e *Engine) observe(ctx context.Context, operation string, attrs map[string]string, fn func() error) error {
	e.hook.OnOperationStart(ctx, operation, attrs)
	start := time.Now()
	err := fn()
	if err != nil {
		e.hook.OnError(ctx, operation, err, attrs)
	}
	e.hook.OnOperationComplete(ctx, operation, time.Since(start), err, attrs)
	return err
}

func bindingAttrs(b Binding) map[string]string {
	return map[string]string{
		"table":   b.Table,
		"binding": b.BindingIdentity.String(),
	}
}
