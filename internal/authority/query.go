package authority

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// Request is an authority query.
type Request struct {
	Kind  Kind
	Basis ir.Hash

	// Window limits the scan to actions timestamped within it.
	Window store.Window
}

// View is the rendered answer to a Request.
type View struct {
	Basis ir.Hash `json:"basis"`
	State

	// Entry is the canonical payload's entry, when it is public and held
	// locally.
	Entry *ir.Entry `json:"entry,omitempty"`
}

// Engine runs queries against the integrated index. It only reads.
type Engine struct {
	store *store.Store
}

// New creates a query engine.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Query scans the integrated ops on the request basis, folds them and
// renders the view. Pending and withdrawn ops are never visible; rejected
// ops are left out of entry and record views and flagged in link and
// activity views.
func (e *Engine) Query(ctx context.Context, req Request) (View, error) {
	types, err := req.Kind.opTypes()
	if err != nil {
		return View{}, err
	}
	ops, err := e.store.IntegratedByBasis(ctx, req.Basis, types, req.Window)
	if err != nil {
		return View{}, fmt.Errorf("query %s %s: %w", req.Kind, req.Basis.Short(), err)
	}
	st, err := Fold(req.Kind, ops)
	if err != nil {
		return View{}, fmt.Errorf("query %s %s: %w", req.Kind, req.Basis.Short(), err)
	}

	v := View{Basis: req.Basis, State: st}
	if st.Canonical != nil {
		a := st.Canonical.action.Action
		if a.EntryType != nil && a.EntryType.IsPublic() && !a.EntryHash.IsZero() {
			entry, found, err := e.store.GetEntry(ctx, a.EntryHash)
			if err != nil {
				return View{}, fmt.Errorf("query %s %s: resolve entry: %w", req.Kind, req.Basis.Short(), err)
			}
			if found {
				v.Entry = &entry
			}
		}
	}
	return v, nil
}

// LinkFilter narrows LiveLinks. Nil fields match anything.
type LinkFilter struct {
	ZomeIndex *int
	LinkType  *int
	TagPrefix []byte
}

func (f LinkFilter) match(l store.LinkRow) bool {
	if f.ZomeIndex != nil && l.ZomeIndex != *f.ZomeIndex {
		return false
	}
	if f.LinkType != nil && l.LinkType != *f.LinkType {
		return false
	}
	return bytes.HasPrefix(l.Tag, f.TagPrefix)
}

// Link is a live link.
type Link struct {
	CreateHash ir.Hash      `json:"create_hash"`
	Base       ir.Hash      `json:"base"`
	Target     ir.Hash      `json:"target"`
	ZomeIndex  int          `json:"zome_index"`
	LinkType   int          `json:"link_type"`
	Tag        []byte       `json:"tag,omitempty"`
	Author     ir.AgentKey  `json:"author"`
	Timestamp  ir.Timestamp `json:"timestamp"`
}

// LiveLinks returns the valid links on base that no valid removal targets,
// ordered by (timestamp, create hash).
func (e *Engine) LiveLinks(ctx context.Context, base ir.Hash, filter LinkFilter) ([]Link, error) {
	rows, err := e.store.LinksOnBase(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("live links %s: %w", base.Short(), err)
	}
	var out []Link
	for _, r := range rows {
		if r.Validation != ir.StatusValid || r.Deleted || !filter.match(r) {
			continue
		}
		out = append(out, Link{
			CreateHash: r.CreateHash,
			Base:       r.Base,
			Target:     r.Target,
			ZomeIndex:  r.ZomeIndex,
			LinkType:   r.LinkType,
			Tag:        r.Tag,
			Author:     r.Author,
			Timestamp:  r.Timestamp,
		})
	}
	return out, nil
}
