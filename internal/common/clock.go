package common

import "time"

// Clock is the sole source of "now" for scheduling and TTL decisions,
// injected everywhere wall time matters so tests can control it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// NewSystemClock returns the default, real-time Clock.
func NewSystemClock() Clock { return SystemClock{} }

// FixedClock is a Clock that always returns the same instant, useful in
// tests that need deterministic "now" values.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }

// NewFixedClock returns a Clock frozen at t.
func NewFixedClock(t time.Time) Clock { return FixedClock{At: t} }
