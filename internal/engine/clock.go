package engine

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// Every mutation event and every notification is stamped with a strictly
// increasing seq number from this clock. Wall time is never used to order
// work: two events enqueued in the same millisecond still get distinct,
// ordered seqs.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
