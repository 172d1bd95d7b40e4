package engine

import "sync/atomic"

// CycleClock stamps every sync cycle with a strictly increasing sequence
// number. Cycle numbers appear in logs and status snapshots so separate
// observers can agree on which cycle they saw.
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// single in-flight-cycle guard means only one goroutine normally calls
// Next.
type CycleClock struct {
	seq atomic.Int64
}

// NewCycleClock creates a clock starting at 0; the first cycle is 1.
func NewCycleClock() *CycleClock {
	return &CycleClock{}
}

// Next returns the next cycle number and increments the clock.
func (c *CycleClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest cycle number without incrementing.
func (c *CycleClock) Current() int64 {
	return c.seq.Load()
}
