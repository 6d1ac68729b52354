package testutil

import "sync"

// Default timing of a DeterministicClock: block timestamps start at
// 2024-01-01T00:00:00Z and advance one second per reading.
const (
	DefaultEpoch int64 = 1704067200000
	DefaultStep  int64 = 1000
)

// DeterministicClock is a resettable logical clock for scenarios and tests.
// It satisfies engine.Clock.
//
// Reading n returns Epoch + n*Step, so two runs that read the clock the
// same number of times see the same block timestamps.
type DeterministicClock struct {
	mu    sync.Mutex
	seq   int64
	epoch int64
	step  int64
}

// NewDeterministicClock creates a clock at DefaultEpoch with DefaultStep.
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, DefaultStep)
}

// NewDeterministicClockAt creates a clock with a custom epoch and step in
// milliseconds.
func NewDeterministicClockAt(epoch, step int64) *DeterministicClock {
	return &DeterministicClock{epoch: epoch, step: step}
}

// Next increments and returns the reading count.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Now advances the clock and returns the reading as Unix milliseconds.
func (c *DeterministicClock) Now() int64 {
	n := c.Next()
	return c.epoch + n*c.step
}

// Current returns the reading count without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock. After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
