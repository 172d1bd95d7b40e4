package testutil

import (
	"sync"
	"time"
)

// Epoch is the base instant for deterministic test clocks. Scenarios and
// golden snapshots all derive their timestamps from it.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a thread-safe deterministic wall clock for tests.
//
// Every call to Now advances the clock by a fixed step, so repeated runs
// of the same scenario produce byte-identical timestamps.
type Clock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

// NewClock creates a clock starting at Epoch, advancing one second per
// Now call.
func NewClock() *Clock {
	return NewClockAt(Epoch, time.Second)
}

// NewClockAt creates a clock starting at the given instant with a custom
// step per Now call.
func NewClockAt(at time.Time, step time.Duration) *Clock {
	return &Clock{at: at, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

// Peek returns the instant the next Now call will produce, without
// advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Advance moves the clock forward by d without producing a tick.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}
