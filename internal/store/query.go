package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// IntegratedOp is an integrated op with its action resolved, as read by
// authority queries.
type IntegratedOp struct {
	Hash           ir.Hash
	Type           ir.OpType
	Action         ir.SignedAction
	ActionHash     ir.Hash
	EntryHash      ir.Hash
	Validation     ir.ValidationStatus
	Reason         string
	WhenIntegrated ir.Timestamp
}

// Window bounds action timestamps as [Start, End). Zero values are unbounded.
type Window struct {
	Start ir.Timestamp
	End   ir.Timestamp
}

// IntegratedByBasis scans the integrated index for ops on basis whose
// variant is one of types. Withdrawn ops are excluded.
func (s *Store) IntegratedByBasis(ctx context.Context, basis ir.Hash, types []ir.OpType, w Window) ([]IntegratedOp, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := []any{string(basis)}
	placeholders := make([]string, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, string(t))
	}
	args = append(args, int64(w.Start), int64(w.Start), int64(w.End), int64(w.End))

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.hash, o.op_type, o.action_hash, o.entry_hash, o.validation_status,
		       o.rejection_reason, o.when_integrated, a.blob
		FROM operation o
		JOIN action a ON a.hash = o.action_hash
		WHERE o.basis = ?
		  AND o.when_integrated IS NOT NULL
		  AND o.op_type IN (`+strings.Join(placeholders, ", ")+`)
		  AND (? = 0 OR a.timestamp >= ?)
		  AND (? = 0 OR a.timestamp < ?)
		ORDER BY o.op_order ASC, o.hash COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("integrated by basis: %w", err)
	}
	defer rows.Close()

	var out []IntegratedOp
	for rows.Next() {
		var hash, opType, actionHash, entryHash, vs, reason, blob string
		var when int64
		if err := rows.Scan(&hash, &opType, &actionHash, &entryHash, &vs, &reason, &when, &blob); err != nil {
			return nil, fmt.Errorf("integrated by basis: scan: %w", err)
		}
		sa, err := unmarshalSignedAction(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, IntegratedOp{
			Hash:           ir.Hash(hash),
			Type:           ir.OpType(opType),
			Action:         sa,
			ActionHash:     ir.Hash(actionHash),
			EntryHash:      ir.Hash(entryHash),
			Validation:     ir.ValidationStatus(vs),
			Reason:         reason,
			WhenIntegrated: ir.Timestamp(when),
		})
	}
	return out, rows.Err()
}

// LinkRow is a link from the metadata index.
type LinkRow struct {
	OpHash     ir.Hash
	CreateHash ir.Hash
	Base       ir.Hash
	Target     ir.Hash
	ZomeIndex  int
	LinkType   int
	Tag        []byte
	Author     ir.AgentKey
	Timestamp  ir.Timestamp
	Validation ir.ValidationStatus

	// Deleted is true when a valid, live delete targets this link.
	Deleted bool
}

// LinksOnBase returns the live link rows on base ordered by
// (timestamp, create hash).
func (s *Store) LinksOnBase(ctx context.Context, base ir.Hash) ([]LinkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.op_hash, l.create_hash, l.base, l.target, l.zome_index, l.link_type,
		       l.tag, l.author, l.timestamp, l.validation_status,
		       EXISTS (
		           SELECT 1 FROM link_delete d
		           WHERE d.link_add = l.create_hash AND d.withdrawn = 0 AND d.validation_status = ?
		       )
		FROM link l
		WHERE l.base = ? AND l.withdrawn = 0
		ORDER BY l.timestamp ASC, l.create_hash COLLATE BINARY ASC
	`, string(ir.StatusValid), string(base))
	if err != nil {
		return nil, fmt.Errorf("links on base: %w", err)
	}
	defer rows.Close()

	var out []LinkRow
	for rows.Next() {
		var r LinkRow
		var opHash, createHash, b, target, author, vs string
		var ts int64
		var deleted int
		if err := rows.Scan(&opHash, &createHash, &b, &target, &r.ZomeIndex, &r.LinkType,
			&r.Tag, &author, &ts, &vs, &deleted); err != nil {
			return nil, fmt.Errorf("links on base: scan: %w", err)
		}
		r.OpHash = ir.Hash(opHash)
		r.CreateHash = ir.Hash(createHash)
		r.Base = ir.Hash(b)
		r.Target = ir.Hash(target)
		r.Author = ir.AgentKey(author)
		r.Timestamp = ir.Timestamp(ts)
		r.Validation = ir.ValidationStatus(vs)
		r.Deleted = deleted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// HighestObservedSeq returns the highest seq of any live activity row for
// author. found is false when no activity has been integrated.
func (s *Store) HighestObservedSeq(ctx context.Context, author ir.AgentKey) (seq int64, found bool, err error) {
	var top sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM agent_activity WHERE author = ? AND withdrawn = 0
	`, string(author)).Scan(&top)
	if err != nil {
		return 0, false, fmt.Errorf("highest observed seq: %w", err)
	}
	if !top.Valid {
		return 0, false, nil
	}
	return top.Int64, true, nil
}
