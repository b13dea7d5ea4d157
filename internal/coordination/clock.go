// Package coordination implements the injectable clock, commit-timestamp
// computation, HEAD readability predicate, and the in-process
// single-writer lock (spec §4.11). Grounded on the teacher's dependency
// -injection style (internal/store takes a clock/fs/sql as constructor
// params rather than reaching for globals) applied to time instead of
// filesystem access.
package coordination

import "time"

// Clock reports the current time in integer milliseconds. Injectable so
// commit-timestamp computation and commit-wait are deterministic under
// test.
type Clock interface {
	Now() int64
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now() in milliseconds since the Unix epoch.
func (SystemClock) Now() int64 { return time.Now().UnixMilli() }

// FixedClock always reports the same instant. Useful for deterministic
// tests. It never advances, so commit-wait must be disabled (epsilonMs = 0)
// whenever one is in use.
type FixedClock struct {
	At int64
}

// Now returns the fixed instant.
func (c FixedClock) Now() int64 { return c.At }

// OffsetClock reports another clock's time shifted by a constant delta,
// useful for simulating clock skew between writer and reader.
type OffsetClock struct {
	Base  Clock
	Delta int64
}

// Now returns Base.Now() + Delta.
func (c OffsetClock) Now() int64 { return c.Base.Now() + c.Delta }
