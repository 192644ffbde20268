// Package authority answers queries an authority serves for a basis hash
// by folding the integrated ops held for it into one view.
//
// The fold is a pure function of the set of ops, never of their arrival
// order: the canonical payload is the minimum by (timestamp, action hash)
// and every set is keyed by action hash and rendered sorted.
package authority

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// Kind selects which ops on a basis a query reads.
type Kind string

const (
	// KindEntry reads an entry basis: its stores, updates and deletes.
	KindEntry Kind = "entry"
	// KindRecord reads an action basis: the record, its updates and deletes.
	KindRecord Kind = "record"
	// KindLinks reads the link creates and removals on a base.
	KindLinks Kind = "links"
	// KindActivity reads an agent's chain activity.
	KindActivity Kind = "activity"
)

// Kinds lists every request kind.
var Kinds = []Kind{KindEntry, KindRecord, KindLinks, KindActivity}

// opTypes returns the variants relevant to the kind.
func (k Kind) opTypes() ([]ir.OpType, error) {
	switch k {
	case KindEntry:
		return []ir.OpType{ir.OpStoreEntry, ir.OpRegisterUpdatedContent, ir.OpRegisterDeletedEntryAction}, nil
	case KindRecord:
		return []ir.OpType{ir.OpStoreRecord, ir.OpRegisterUpdatedRecord, ir.OpRegisterDeletedBy}, nil
	case KindLinks:
		return []ir.OpType{ir.OpRegisterCreateLink, ir.OpRegisterDeleteLink}, nil
	case KindActivity:
		return []ir.OpType{ir.OpRegisterAgentActivity}, nil
	default:
		return nil, fmt.Errorf("unknown query kind %q", k)
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, err := k.opTypes(); err != nil {
		return "", err
	}
	return k, nil
}

// Member is one action contributing to a view.
type Member struct {
	ActionHash ir.Hash             `json:"action_hash"`
	Type       ir.ActionType       `json:"action_type"`
	Author     ir.AgentKey         `json:"author"`
	Seq        int64               `json:"seq"`
	Timestamp  ir.Timestamp        `json:"timestamp"`
	Validation ir.ValidationStatus `json:"validation"`
	Reason     string              `json:"reason,omitempty"`

	action ir.SignedAction
}

// Action returns the member's signed action.
func (m Member) Action() ir.SignedAction { return m.action }

func memberOf(op store.IntegratedOp) Member {
	a := op.Action.Action
	return Member{
		ActionHash: op.ActionHash,
		Type:       a.Type,
		Author:     a.Author,
		Seq:        a.Seq,
		Timestamp:  a.Timestamp,
		Validation: op.Validation,
		Reason:     op.Reason,
		action:     op.Action,
	}
}

// before orders members by (timestamp, action hash).
func before(a, b Member) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ActionHash, b.ActionHash)
}

// State is the folded content of a basis.
//
// Entry and record kinds fill Canonical, Updates and Deletes with valid ops
// only. Link kinds fill Creates and Deletes with every op, each flagged
// with its own verdict. Activity fills Valid and Rejected.
type State struct {
	Kind Kind `json:"kind"`

	Canonical *Member  `json:"canonical,omitempty"`
	Updates   []Member `json:"updates"`
	Deletes   []Member `json:"deletes"`
	Creates   []Member `json:"creates,omitempty"`

	Valid      []Member `json:"valid,omitempty"`
	Rejected   []Member `json:"rejected,omitempty"`
	HighestSeq *int64   `json:"highest_seq,omitempty"`
	Forked     bool     `json:"forked,omitempty"`
}

// accumulator collects members keyed by action hash. Adding is commutative
// and idempotent, so any order of the same ops folds to the same state.
type accumulator struct {
	canonical *Member
	updates   map[ir.Hash]Member
	deletes   map[ir.Hash]Member
	creates   map[ir.Hash]Member
	valid     map[ir.Hash]Member
	rejected  map[ir.Hash]Member
}

func newAccumulator() *accumulator {
	return &accumulator{
		updates:  make(map[ir.Hash]Member),
		deletes:  make(map[ir.Hash]Member),
		creates:  make(map[ir.Hash]Member),
		valid:    make(map[ir.Hash]Member),
		rejected: make(map[ir.Hash]Member),
	}
}

func (acc *accumulator) add(op store.IntegratedOp) error {
	m := memberOf(op)
	valid := op.Validation == ir.StatusValid

	switch op.Type {
	case ir.OpStoreEntry, ir.OpStoreRecord:
		if valid && (acc.canonical == nil || before(m, *acc.canonical) < 0) {
			acc.canonical = &m
		}
	case ir.OpRegisterUpdatedContent, ir.OpRegisterUpdatedRecord:
		if valid {
			acc.updates[m.ActionHash] = m
		}
	case ir.OpRegisterDeletedBy, ir.OpRegisterDeletedEntryAction:
		if valid {
			acc.deletes[m.ActionHash] = m
		}
	case ir.OpRegisterCreateLink:
		acc.creates[m.ActionHash] = m
	case ir.OpRegisterDeleteLink:
		acc.deletes[m.ActionHash] = m
	case ir.OpRegisterAgentActivity:
		if valid {
			acc.valid[m.ActionHash] = m
		} else {
			acc.rejected[m.ActionHash] = m
		}
	default:
		return &ir.InvariantError{Op: op.Hash, Message: fmt.Sprintf("no fold rule for op type %q", op.Type)}
	}
	return nil
}

func sorted(set map[ir.Hash]Member) []Member {
	out := make([]Member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	slices.SortFunc(out, before)
	return out
}

func (acc *accumulator) state(k Kind) State {
	st := State{Kind: k, Updates: sorted(acc.updates), Deletes: sorted(acc.deletes)}
	if acc.canonical != nil {
		c := *acc.canonical
		st.Canonical = &c
	}
	if k == KindLinks {
		st.Creates = sorted(acc.creates)
	}
	if k == KindActivity {
		st.Valid = sorted(acc.valid)
		st.Rejected = sorted(acc.rejected)

		seqs := make(map[int64]ir.Hash)
		for _, m := range append(slices.Clone(st.Valid), st.Rejected...) {
			if h, ok := seqs[m.Seq]; ok && h != m.ActionHash {
				st.Forked = true
			}
			seqs[m.Seq] = m.ActionHash
		}
		for _, m := range st.Valid {
			if st.HighestSeq == nil || m.Seq > *st.HighestSeq {
				seq := m.Seq
				st.HighestSeq = &seq
			}
		}
	}
	return st
}

// Fold merges the integrated ops of one basis. Ops whose variant does not
// belong to the kind are an error, as is an unknown kind.
func Fold(k Kind, ops []store.IntegratedOp) (State, error) {
	types, err := k.opTypes()
	if err != nil {
		return State{}, err
	}
	acc := newAccumulator()
	for _, op := range ops {
		if !slices.Contains(types, op.Type) {
			return State{}, fmt.Errorf("fold %s: op %s has variant %s", k, op.Hash.Short(), op.Type)
		}
		if err := acc.add(op); err != nil {
			return State{}, err
		}
	}
	return acc.state(k), nil
}
