package testutil

import (
	"sync"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// DefaultClockStart is the first timestamp handed out by a new
// DeterministicClock.
const DefaultClockStart ir.Timestamp = 1_800_000_000_000_000

// DeterministicClock provides a thread-safe monotonic clock for tests.
//
// Unlike engine.SystemClock, DeterministicClock can be reset for test reuse.
// This enables the same test scenario to run multiple times with identical
// integration timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start ir.Timestamp
	calls int64
}

// NewDeterministicClock creates a clock starting at DefaultClockStart.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultClockStart)
}

// NewDeterministicClockAt creates a clock whose first Now() returns start.
func NewDeterministicClockAt(start ir.Timestamp) *DeterministicClock {
	return &DeterministicClock{start: start}
}

// Now returns start, start+1, start+2, ... on successive calls.
//
// Implements engine.Clock.
func (c *DeterministicClock) Now() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.start + ir.Timestamp(c.calls)
	c.calls++
	return ts
}

// Calls returns how many timestamps have been handed out.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock. After Reset(), the next call to Now() returns
// the start value again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
