package engine

// Trigger is a single-slot wake-up signal owned by one stage.
//
// Signal never blocks and coalesces: any number of calls before the stage
// wakes leave exactly one pending wake-up. The buffered channel of size 1 is
// the whole mechanism.
type Trigger struct {
	signal chan struct{}
}

// NewTrigger creates a trigger with no pending wake-up.
func NewTrigger() *Trigger {
	return &Trigger{signal: make(chan struct{}, 1)}
}

// Signal requests a stage pass. Safe to call from any goroutine.
func (t *Trigger) Signal() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that receives once per pending wake-up.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return nil
//	case <-t.Wait():
//	    // run a pass
//	}
func (t *Trigger) Wait() <-chan struct{} {
	return t.signal
}

// take consumes a pending wake-up without blocking.
func (t *Trigger) take() bool {
	select {
	case <-t.signal:
		return true
	default:
		return false
	}
}
