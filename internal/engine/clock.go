package engine

import (
	"sync/atomic"
	"time"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// Clock supplies integration and receipt timestamps.
type Clock interface {
	Now() ir.Timestamp
}

// SystemClock reads wall time in microseconds and never goes backwards:
// if the wall clock steps back or two calls land in the same microsecond,
// the previous value plus one is returned.
//
// Thread-safety: SystemClock is safe for concurrent use (atomic operations).
type SystemClock struct {
	last atomic.Int64
}

// NewSystemClock creates a wall clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current timestamp. Calls are linearizable - each call
// returns a unique, increasing value.
func (c *SystemClock) Now() ir.Timestamp {
	for {
		last := c.last.Load()
		now := time.Now().UnixMicro()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return ir.Timestamp(now)
		}
	}
}
