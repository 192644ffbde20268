package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// ErrSendFailed is returned by FakeNetwork.SendReceipt when sends are set
// to fail.
var ErrSendFailed = errors.New("fake network: send failed")

// Publication is one recorded Publish call.
type Publication struct {
	Basis ir.Hash
	Ops   []ir.Op
}

// SentReceipt is one recorded SendReceipt call.
type SentReceipt struct {
	To      ir.AgentKey
	Receipt ir.SignedReceipt
}

// FakeNetwork implements engine.Network in memory. It records every call
// and answers Fetch from ops registered with Serve.
//
// Thread-safety: safe for concurrent use.
type FakeNetwork struct {
	mu sync.Mutex

	published []Publication
	fetched   []ir.Hash
	receipts  []SentReceipt

	// served ops keyed by action hash and by entry hash
	served map[ir.Hash][]ir.Op

	failSends bool
	fetchErr  error
}

// NewFakeNetwork creates an empty fake network.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{served: make(map[ir.Hash][]ir.Op)}
}

// Serve makes ops available to Fetch, by action hash and by entry hash.
func (n *FakeNetwork) Serve(ops ...ir.Op) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, op := range ops {
		ah := op.ActionHash()
		n.served[ah] = append(n.served[ah], op)
		if eh := op.Action.Action.EntryHash; op.Entry != nil && !eh.IsZero() {
			n.served[eh] = append(n.served[eh], op)
		}
	}
}

// FailSends makes every later SendReceipt call fail (or succeed again).
func (n *FakeNetwork) FailSends(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSends = fail
}

// FailFetches makes every later Fetch call return err. Nil restores normal
// behaviour.
func (n *FakeNetwork) FailFetches(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fetchErr = err
}

// Publish records the call.
func (n *FakeNetwork) Publish(_ context.Context, basis ir.Hash, ops []ir.Op) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, Publication{Basis: basis, Ops: append([]ir.Op(nil), ops...)})
	return nil
}

// Fetch records the call and returns the served ops for h.
func (n *FakeNetwork) Fetch(_ context.Context, h ir.Hash) ([]ir.Op, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fetched = append(n.fetched, h)
	if n.fetchErr != nil {
		return nil, n.fetchErr
	}
	return append([]ir.Op(nil), n.served[h]...), nil
}

// SendReceipt records the call, then fails if sends are set to fail.
// Failed attempts are recorded too.
func (n *FakeNetwork) SendReceipt(_ context.Context, to ir.AgentKey, r ir.SignedReceipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, SentReceipt{To: to, Receipt: r})
	if n.failSends {
		return ErrSendFailed
	}
	return nil
}

// Published returns the recorded Publish calls.
func (n *FakeNetwork) Published() []Publication {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Publication(nil), n.published...)
}

// Fetched returns the hashes passed to Fetch, in call order.
func (n *FakeNetwork) Fetched() []ir.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ir.Hash(nil), n.fetched...)
}

// Receipts returns the recorded SendReceipt calls.
func (n *FakeNetwork) Receipts() []SentReceipt {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentReceipt(nil), n.receipts...)
}

// ReceiptsFor returns how many receipt sends were attempted for an op.
func (n *FakeNetwork) ReceiptsFor(op ir.Hash) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, r := range n.receipts {
		if r.Receipt.Receipt.OpHash == op {
			count++
		}
	}
	return count
}
