package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps blocks and message envelopes with a millisecond timestamp.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current Unix time in milliseconds.
func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// LogicalClock is a deterministic Clock. Each call advances it by a fixed
// step, so replays over a fresh ledger produce identical timestamps.
//
// Thread-safety: LogicalClock is safe for concurrent use (atomic operations).
type LogicalClock struct {
	seq   atomic.Int64
	start int64
	step  int64
}

// NewLogicalClock creates a clock whose first reading is start+step.
func NewLogicalClock(start, step int64) *LogicalClock {
	return &LogicalClock{start: start, step: step}
}

// Now returns the next timestamp. Calls are linearizable: each returns a
// unique, increasing value.
func (c *LogicalClock) Now() int64 {
	return c.start + c.seq.Add(1)*c.step
}

// Current returns the last timestamp handed out without advancing.
func (c *LogicalClock) Current() int64 {
	return c.start + c.seq.Load()*c.step
}
