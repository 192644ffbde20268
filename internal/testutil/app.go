package testutil

import (
	"context"
	"sync"

	"github.com/Daironode/aingle-sub000/internal/engine"
	"github.com/Daironode/aingle-sub000/internal/ir"
)

// ScriptedApp is an engine.AppValidation whose outcomes are set per action
// hash. Unscripted ops are valid. Every call is recorded.
//
// Thread-safety: safe for concurrent use.
type ScriptedApp struct {
	mu       sync.Mutex
	outcomes map[ir.Hash][]engine.Outcome
	errs     map[ir.Hash]error
	calls    []ir.Hash
}

// NewScriptedApp creates a validator that accepts everything until scripted.
func NewScriptedApp() *ScriptedApp {
	return &ScriptedApp{
		outcomes: make(map[ir.Hash][]engine.Outcome),
		errs:     make(map[ir.Hash]error),
	}
}

// Script queues outcomes for every op of an action. Each call consumes one
// outcome; the last one repeats.
func (a *ScriptedApp) Script(action ir.Hash, outcomes ...engine.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[action] = append(a.outcomes[action], outcomes...)
}

// Fail makes validation of the action's ops return err. Nil clears it.
func (a *ScriptedApp) Fail(action ir.Hash, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.errs, action)
		return
	}
	a.errs[action] = err
}

// Validate implements engine.AppValidation.
func (a *ScriptedApp) Validate(_ context.Context, op ir.Op, _ engine.Deps) (engine.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := op.Hash()
	a.calls = append(a.calls, h)

	ah := op.ActionHash()
	if err := a.errs[ah]; err != nil {
		return engine.Outcome{}, err
	}
	queue := a.outcomes[ah]
	switch len(queue) {
	case 0:
		return engine.Valid(), nil
	case 1:
		return queue[0], nil
	default:
		a.outcomes[ah] = queue[1:]
		return queue[0], nil
	}
}

// Calls returns the op hashes validated so far, in call order.
func (a *ScriptedApp) Calls() []ir.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ir.Hash(nil), a.calls...)
}
