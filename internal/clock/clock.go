// Package clock provides wall time, the business-day calendar, and the
// market session table. All date arithmetic in the engine goes through this
// package; compliance rules in particular must never do their own.
package clock

import (
	"sync"
	"time"
)

// Clock supplies current time. Components take a Clock so tests can pin it.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current UTC date at midnight.
func (SystemClock) Today() time.Time {
	return Midnight(time.Now().UTC())
}

// FixedClock is a settable clock for tests and replay.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock returns a clock pinned to t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

// Now returns the pinned time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Today returns the pinned date at midnight.
func (c *FixedClock) Today() time.Time {
	return Midnight(c.Now())
}

// Set pins the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Midnight normalizes t to its UTC date at 00:00.
func Midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC date.
func SameDay(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}
