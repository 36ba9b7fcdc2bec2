package seqveil

// This file provides test utilities for use in examples and external
// testing.

import "time"

// TestSalt is the installation salt used by NewTestEngine. It is an
// arbitrary fixed value so identifiers derived in tests and examples are
// reproducible across runs.
const TestSalt uint32 = 914030010

// TestMoment is the instant NewTestEngine's clock is frozen at.
var TestMoment = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// FixedClock returns a clock function pinned to one instant, for
// deterministic time prefixes.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// NewTestEngine creates an Engine with a fixed salt and a clock frozen at
// TestMoment. Options are applied afterwards, so callers can still override
// the clock or install collectors.
func NewTestEngine(options ...Option) (*Engine, error) {
	opts := append([]Option{WithClock(FixedClock(TestMoment))}, options...)
	return New(TestSalt, opts...)
}
