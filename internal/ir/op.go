package ir

import (
	"fmt"
)

// OpType is the closed set of operation variants. Every stage switches over
// all nine values and treats anything else as an invariant violation.
type OpType string

const (
	OpStoreRecord                OpType = "StoreRecord"
	OpStoreEntry                 OpType = "StoreEntry"
	OpRegisterAgentActivity      OpType = "RegisterAgentActivity"
	OpRegisterUpdatedContent     OpType = "RegisterUpdatedContent"
	OpRegisterUpdatedRecord      OpType = "RegisterUpdatedRecord"
	OpRegisterDeletedBy          OpType = "RegisterDeletedBy"
	OpRegisterDeletedEntryAction OpType = "RegisterDeletedEntryAction"
	OpRegisterCreateLink         OpType = "RegisterCreateLink"
	OpRegisterDeleteLink         OpType = "RegisterDeleteLink"
)

// AllOpTypes lists every variant in OpOrder rank order.
var AllOpTypes = []OpType{
	OpRegisterAgentActivity,
	OpStoreEntry,
	OpStoreRecord,
	OpRegisterUpdatedContent,
	OpRegisterUpdatedRecord,
	OpRegisterDeletedBy,
	OpRegisterDeletedEntryAction,
	OpRegisterCreateLink,
	OpRegisterDeleteLink,
}

// Rank returns the fixed processing priority of the variant.
// Dependency-producing variants (activity, entries) rank lowest.
func (t OpType) Rank() (int, error) {
	switch t {
	case OpRegisterAgentActivity:
		return 0, nil
	case OpStoreEntry:
		return 1, nil
	case OpStoreRecord:
		return 2, nil
	case OpRegisterUpdatedContent:
		return 3, nil
	case OpRegisterUpdatedRecord:
		return 4, nil
	case OpRegisterDeletedBy:
		return 5, nil
	case OpRegisterDeletedEntryAction:
		return 6, nil
	case OpRegisterCreateLink:
		return 7, nil
	case OpRegisterDeleteLink:
		return 8, nil
	default:
		return 0, &InvariantError{Message: fmt.Sprintf("unknown op type %q", t)}
	}
}

// Known reports whether t is one of the nine variants.
func (t OpType) Known() bool {
	_, err := t.Rank()
	return err == nil
}

// OpOrder is the total processing order key: variant rank, then timestamp.
type OpOrder struct {
	Rank      int
	Timestamp Timestamp
}

// String renders the order as a fixed-width key that sorts lexically in the
// same order as Less, so it can be stored and ORDER BY'd directly.
func (o OpOrder) String() string {
	ts := o.Timestamp
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%d%020d", o.Rank, ts)
}

// Less reports whether o sorts before p.
func (o OpOrder) Less(p OpOrder) bool {
	if o.Rank != p.Rank {
		return o.Rank < p.Rank
	}
	return o.Timestamp < p.Timestamp
}

// Op is the unit of replication: one variant applied to one signed action,
// optionally carrying the action's entry.
type Op struct {
	Type   OpType       `json:"type"`
	Action SignedAction `json:"action"`
	Entry  *Entry       `json:"entry,omitempty"`
}

// OpLight is the hash-only projection of an Op stored alongside pipeline
// state so payloads are never duplicated.
type OpLight struct {
	Type       OpType `json:"type"`
	ActionHash Hash   `json:"action_hash"`
	EntryHash  Hash   `json:"entry_hash,omitempty"`
	Basis      Hash   `json:"basis"`
}

// Hash returns the op identity.
func (l OpLight) Hash() Hash { return OpHash(l.Type, l.ActionHash) }

// SameOp reports whether two projections denote the same operation.
// Identity is (variant, action hash); the entry hash is ignored.
func (l OpLight) SameOp(o OpLight) bool {
	return l.Type == o.Type && l.ActionHash == o.ActionHash
}

// ActionHash returns the hash of the op's action.
func (op Op) ActionHash() Hash { return op.Action.Hash() }

// Hash returns the op identity.
func (op Op) Hash() Hash { return OpHash(op.Type, op.ActionHash()) }

// Basis derives the authority basis from the action alone. The entry is
// never consulted, so the basis is known without fetching payloads.
func (op Op) Basis() Hash {
	a := op.Action.Action
	switch op.Type {
	case OpStoreRecord:
		return a.Hash()
	case OpStoreEntry:
		return a.EntryHash
	case OpRegisterAgentActivity:
		return a.Author.AsHash()
	case OpRegisterUpdatedContent:
		return a.OriginalEntry
	case OpRegisterUpdatedRecord:
		return a.OriginalAction
	case OpRegisterDeletedBy:
		return a.DeletesAction
	case OpRegisterDeletedEntryAction:
		return a.DeletesEntry
	case OpRegisterCreateLink, OpRegisterDeleteLink:
		return a.BaseAddress
	default:
		return ""
	}
}

// Order returns the op's processing order key.
func (op Op) Order() OpOrder {
	rank, _ := op.Type.Rank()
	return OpOrder{Rank: rank, Timestamp: op.Action.Action.Timestamp}
}

// Light projects the op to its hash-only form.
func (op Op) Light() OpLight {
	l := OpLight{
		Type:       op.Type,
		ActionHash: op.ActionHash(),
		Basis:      op.Basis(),
	}
	if op.Entry != nil {
		l.EntryHash = op.Action.Action.EntryHash
	}
	return l
}

// CheckShape verifies that the variant can be derived from the action type
// and that required payloads are present. A failure here is a programming
// error on the producer side, not a validation outcome.
func (op Op) CheckShape() error {
	a := op.Action.Action
	if !a.Type.Known() {
		return &InvariantError{Message: fmt.Sprintf("unknown action type %q", a.Type)}
	}
	bad := func(msg string) error {
		return &InvariantError{Op: op.Hash(), Message: fmt.Sprintf("%s for %s action: %s", op.Type, a.Type, msg)}
	}
	for _, ref := range a.references() {
		if !ref.hash.IsZero() && !ref.hash.Valid() {
			return bad(fmt.Sprintf("%s %q is not a hash", ref.field, ref.hash))
		}
	}
	switch op.Type {
	case OpStoreRecord, OpRegisterAgentActivity:
	case OpStoreEntry:
		if !a.Type.HasEntry() {
			return bad("action carries no entry")
		}
		if op.Entry == nil {
			return bad("entry is required")
		}
	case OpRegisterUpdatedContent, OpRegisterUpdatedRecord:
		if a.Type != ActionUpdate {
			return bad("not an update")
		}
	case OpRegisterDeletedBy, OpRegisterDeletedEntryAction:
		if a.Type != ActionDelete {
			return bad("not a delete")
		}
	case OpRegisterCreateLink:
		if a.Type != ActionCreateLink {
			return bad("not a link creation")
		}
	case OpRegisterDeleteLink:
		if a.Type != ActionDeleteLink {
			return bad("not a link deletion")
		}
	default:
		return &InvariantError{Message: fmt.Sprintf("unknown op type %q", op.Type)}
	}
	if op.Basis().IsZero() {
		return bad("basis is empty")
	}
	return nil
}

type reference struct {
	field string
	hash  Hash
}

// references lists every hash-valued field of the action, set or not.
func (a Action) references() []reference {
	return []reference{
		{"dna_hash", a.DNAHash},
		{"prev_action", a.PrevAction},
		{"entry_hash", a.EntryHash},
		{"original_action", a.OriginalAction},
		{"original_entry", a.OriginalEntry},
		{"deletes_action", a.DeletesAction},
		{"deletes_entry", a.DeletesEntry},
		{"base_address", a.BaseAddress},
		{"target_address", a.TargetAddress},
		{"link_add", a.LinkAdd},
	}
}

// ProduceOps fans an action out into the ops its authorities hold.
// Every action yields a StoreRecord and a RegisterAgentActivity; the rest
// depends on the action type. Private entries never leave the author, so
// they are stripped from every op and no StoreEntry is produced for them.
func ProduceOps(sa SignedAction, entry *Entry) []Op {
	a := sa.Action
	var public *Entry
	if entry != nil && a.EntryType != nil && a.EntryType.IsPublic() {
		public = entry
	}

	ops := []Op{
		{Type: OpStoreRecord, Action: sa, Entry: public},
		{Type: OpRegisterAgentActivity, Action: sa},
	}

	switch a.Type {
	case ActionCreate:
		if public != nil {
			ops = append(ops, Op{Type: OpStoreEntry, Action: sa, Entry: public})
		}
	case ActionUpdate:
		if public != nil {
			ops = append(ops, Op{Type: OpStoreEntry, Action: sa, Entry: public})
		}
		ops = append(ops,
			Op{Type: OpRegisterUpdatedContent, Action: sa, Entry: public},
			Op{Type: OpRegisterUpdatedRecord, Action: sa, Entry: public},
		)
	case ActionDelete:
		ops = append(ops,
			Op{Type: OpRegisterDeletedBy, Action: sa},
			Op{Type: OpRegisterDeletedEntryAction, Action: sa},
		)
	case ActionCreateLink:
		ops = append(ops, Op{Type: OpRegisterCreateLink, Action: sa})
	case ActionDeleteLink:
		ops = append(ops, Op{Type: OpRegisterDeleteLink, Action: sa})
	}
	return ops
}
