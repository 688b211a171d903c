package pipeline

import "sync/atomic"

// Clock is a monotonic logical clock for trail event ordering.
//
// Every trail event is stamped with a strictly increasing seq from this
// clock. Wall-clock time is never used for ordering.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Phase 2 tasks stamp events concurrently, so seq order across requirements
// is arrival order; within one requirement it is causal order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
