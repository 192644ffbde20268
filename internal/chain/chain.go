// Package chain builds and signs source chains. It is the authoring side
// that feeds the pipeline: the CLI, the scenario harness and tests commit
// actions through an Author and hand the resulting ops to ingestion.
package chain

import (
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

// DefaultStart is the timestamp of the first action when none is set.
const DefaultStart ir.Timestamp = 1_700_000_000_000_000

// Commit is one signed action plus the entry it carries, if any.
type Commit struct {
	Action ir.SignedAction
	Entry  *ir.Entry
}

// Hash returns the action hash.
func (c Commit) Hash() ir.Hash { return c.Action.Hash() }

// Ops fans the commit out into its ops.
func (c Commit) Ops() []ir.Op { return ir.ProduceOps(c.Action, c.Entry) }

// Author appends actions to one agent's chain. Each commit links to the
// previous one, takes the next seq, and a timestamp one microsecond after
// the previous unless SetTime moved the clock.
//
// Author is not safe for concurrent use.
type Author struct {
	signer keys.Signer
	dna    ir.Hash
	head   *ir.SignedAction
	now    ir.Timestamp
}

// NewAuthor creates an author with an empty chain.
func NewAuthor(signer keys.Signer, dna ir.Hash) *Author {
	return &Author{signer: signer, dna: dna, now: DefaultStart}
}

// Resume continues an existing chain from head.
func Resume(signer keys.Signer, dna ir.Hash, head ir.SignedAction) *Author {
	h := head
	return &Author{signer: signer, dna: dna, head: &h, now: head.Action.Timestamp}
}

// Key returns the author's agent key.
func (a *Author) Key() ir.AgentKey { return a.signer.AgentKey() }

// Head returns the last committed action.
func (a *Author) Head() (ir.SignedAction, bool) {
	if a.head == nil {
		return ir.SignedAction{}, false
	}
	return *a.head, true
}

// SetTime sets the timestamp of the next commit.
func (a *Author) SetTime(ts ir.Timestamp) { a.now = ts - 1 }

// Genesis opens the chain.
func (a *Author) Genesis() (Commit, error) {
	if a.head != nil {
		return Commit{}, fmt.Errorf("genesis: chain already open")
	}
	return a.append(ir.Action{Type: ir.ActionChainOpen, DNAHash: a.dna}, nil)
}

// Create commits a new entry.
func (a *Author) Create(t ir.EntryType, e ir.Entry) (Commit, error) {
	et := t
	return a.append(ir.Action{
		Type:      ir.ActionCreate,
		EntryType: &et,
		EntryHash: e.Hash(),
	}, &e)
}

// Update replaces the entry of original with e.
func (a *Author) Update(original Commit, e ir.Entry) (Commit, error) {
	orig := original.Action.Action
	if orig.EntryType == nil {
		return Commit{}, fmt.Errorf("update: %s action has no entry", orig.Type)
	}
	et := *orig.EntryType
	return a.append(ir.Action{
		Type:           ir.ActionUpdate,
		EntryType:      &et,
		EntryHash:      e.Hash(),
		OriginalAction: original.Hash(),
		OriginalEntry:  orig.EntryHash,
	}, &e)
}

// Delete deletes the record created by target.
func (a *Author) Delete(target Commit) (Commit, error) {
	t := target.Action.Action
	if t.EntryHash.IsZero() {
		return Commit{}, fmt.Errorf("delete: %s action has no entry", t.Type)
	}
	return a.append(ir.Action{
		Type:          ir.ActionDelete,
		DeletesAction: target.Hash(),
		DeletesEntry:  t.EntryHash,
	}, nil)
}

// CreateLink links base to target.
func (a *Author) CreateLink(base, target ir.Hash, zome, linkType int, tag []byte) (Commit, error) {
	return a.append(ir.Action{
		Type:          ir.ActionCreateLink,
		BaseAddress:   base,
		TargetAddress: target,
		ZomeIndex:     zome,
		LinkType:      linkType,
		Tag:           tag,
	}, nil)
}

// DeleteLink removes the link made by create.
func (a *Author) DeleteLink(create Commit) (Commit, error) {
	c := create.Action.Action
	if c.Type != ir.ActionCreateLink {
		return Commit{}, fmt.Errorf("delete link: %s is not a link", c.Type)
	}
	return a.append(ir.Action{
		Type:        ir.ActionDeleteLink,
		LinkAdd:     create.Hash(),
		BaseAddress: c.BaseAddress,
	}, nil)
}

// Append fills the header of body (author, seq, prev, timestamp), signs it
// and makes it the new head.
func (a *Author) Append(body ir.Action, e *ir.Entry) (Commit, error) {
	return a.append(body, e)
}

func (a *Author) append(body ir.Action, e *ir.Entry) (Commit, error) {
	a.now++
	body.Author = a.signer.AgentKey()
	body.Timestamp = a.now
	if a.head != nil {
		body.Seq = a.head.Action.Seq + 1
		body.PrevAction = a.head.Hash()
	}
	c, err := a.Sign(body, e)
	if err != nil {
		return Commit{}, err
	}
	a.head = &c.Action
	return c, nil
}

// Sign signs body exactly as given without touching the chain. Tests use it
// to build actions that break linkage rules.
func (a *Author) Sign(body ir.Action, e *ir.Entry) (Commit, error) {
	sa, err := keys.SignAction(a.signer, body)
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", body.Type, err)
	}
	return Commit{Action: sa, Entry: e}, nil
}

// AppEntry returns a public or private app entry type.
func AppEntry(zome, index int, vis ir.Visibility) ir.EntryType {
	return ir.EntryType{Kind: ir.EntryApp, ZomeIndex: zome, EntryIndex: index, Visibility: vis}
}
