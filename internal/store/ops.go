package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// OpRecord is an operation row: the op's light projection plus pipeline state.
type OpRecord struct {
	Hash  ir.Hash
	Light ir.OpLight

	// CarriedEntry is the hash of the entry the op actually arrived with,
	// which may differ from the entry hash its action declares.
	CarriedEntry ir.Hash

	Author         ir.AgentKey
	Timestamp      ir.Timestamp
	Order          string
	Status         ir.OpStatus
	WhenIntegrated ir.Timestamp
	Withdrawn      bool
	RequireReceipt bool
	ReceivedAt     ir.Timestamp
}

// PendingOp is an op admitted by ingestion.
type PendingOp struct {
	Op             ir.Op
	RequireReceipt bool
	ReceivedAt     ir.Timestamp
}

const opColumns = `hash, op_type, action_hash, entry_hash, carried_entry, basis, author,
	timestamp, op_order, stage, validation_status, rejection_reason, missing_deps,
	when_integrated, withdrawn, require_receipt, received_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpRecord(row rowScanner) (OpRecord, error) {
	var r OpRecord
	var hash, opType, actionHash, entryHash, carried, basis string
	var author, order, stage, vs, reason, missing string
	var ts, receivedAt int64
	var whenIntegrated sql.NullInt64
	var withdrawn, requireReceipt int
	err := row.Scan(&hash, &opType, &actionHash, &entryHash, &carried, &basis, &author,
		&ts, &order, &stage, &vs, &reason, &missing,
		&whenIntegrated, &withdrawn, &requireReceipt, &receivedAt)
	if err != nil {
		return OpRecord{}, err
	}
	deps, err := unmarshalHashes(missing)
	if err != nil {
		return OpRecord{}, err
	}
	r.Hash = ir.Hash(hash)
	r.Light = ir.OpLight{
		Type:       ir.OpType(opType),
		ActionHash: ir.Hash(actionHash),
		EntryHash:  ir.Hash(entryHash),
		Basis:      ir.Hash(basis),
	}
	r.CarriedEntry = ir.Hash(carried)
	r.Author = ir.AgentKey(author)
	r.Timestamp = ir.Timestamp(ts)
	r.Order = order
	r.Status = ir.OpStatus{
		Stage:      ir.Stage(stage),
		Validation: ir.ValidationStatus(vs),
		Missing:    deps,
		Reason:     reason,
	}
	if whenIntegrated.Valid {
		r.WhenIntegrated = ir.Timestamp(whenIntegrated.Int64)
	}
	r.Withdrawn = withdrawn != 0
	r.RequireReceipt = requireReceipt != 0
	r.ReceivedAt = ir.Timestamp(receivedAt)
	return r, nil
}

func (s *Store) queryOpRecords(ctx context.Context, where string, args ...any) ([]OpRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM operation `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpRecord
	for rows.Next() {
		r, err := scanOpRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertPendingOp admits an op into validation limbo with status Pending and
// stages its action (and carried entry, if public) in the content store, all
// in one transaction.
//
// Uses ON CONFLICT(hash) DO NOTHING: an op already known in any stage is left
// untouched and inserted=false is returned.
func (s *Store) InsertPendingOp(ctx context.Context, p PendingOp) (inserted bool, err error) {
	op := p.Op
	light := op.Light()
	hash := op.Hash()
	a := op.Action.Action

	var carried ir.Hash
	if op.Entry != nil {
		carried = op.Entry.Hash()
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := putAction(ctx, tx, op.Action); err != nil {
			return err
		}
		if op.Entry != nil && a.EntryType != nil && a.EntryType.IsPublic() {
			if err := putEntry(ctx, tx, *op.Entry); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO operation
			(hash, op_type, action_hash, entry_hash, carried_entry, basis, author,
			 timestamp, op_order, stage, require_receipt, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hash) DO NOTHING
		`,
			string(hash),
			string(op.Type),
			string(light.ActionHash),
			string(light.EntryHash),
			string(carried),
			string(light.Basis),
			string(a.Author),
			int64(a.Timestamp),
			op.Order().String(),
			string(ir.StagePending),
			boolToInt(p.RequireReceipt),
			int64(p.ReceivedAt),
		)
		if err != nil {
			return fmt.Errorf("insert op: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert pending op %s: %w", hash.Short(), err)
	}
	return inserted, nil
}

// LookupOp returns the op row without loading payloads.
func (s *Store) LookupOp(ctx context.Context, h ir.Hash) (OpRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+opColumns+` FROM operation WHERE hash = ?`, string(h))
	r, err := scanOpRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OpRecord{}, false, nil
	}
	if err != nil {
		return OpRecord{}, false, fmt.Errorf("lookup op: %w", err)
	}
	return r, true, nil
}

// GetOp loads the op row and rebuilds the full op from the content store.
// A carried entry that was not staged (private) is left nil; callers can
// still see it was carried via OpRecord.CarriedEntry.
func (s *Store) GetOp(ctx context.Context, h ir.Hash) (ir.Op, OpRecord, error) {
	r, found, err := s.LookupOp(ctx, h)
	if err != nil {
		return ir.Op{}, OpRecord{}, err
	}
	if !found {
		return ir.Op{}, OpRecord{}, fmt.Errorf("get op %s: %w", h.Short(), ErrNotFound)
	}
	op, err := s.loadOp(ctx, r)
	if err != nil {
		return ir.Op{}, OpRecord{}, err
	}
	return op, r, nil
}

func (s *Store) loadOp(ctx context.Context, r OpRecord) (ir.Op, error) {
	sa, found, err := s.GetAction(ctx, r.Light.ActionHash)
	if err != nil {
		return ir.Op{}, err
	}
	if !found {
		// The action is staged in the same transaction as the op row.
		return ir.Op{}, &ir.InvariantError{Op: r.Hash, Message: "op row without staged action"}
	}
	op := ir.Op{Type: r.Light.Type, Action: sa}
	if r.CarriedEntry != "" {
		e, found, err := s.GetEntry(ctx, r.CarriedEntry)
		if err != nil {
			return ir.Op{}, err
		}
		if found {
			op.Entry = &e
		}
	}
	return op, nil
}

// OpsInStages returns the rows in the given stages in processing order:
// ORDER BY op_order, hash.
func (s *Store) OpsInStages(ctx context.Context, stages ...ir.Stage) ([]OpRecord, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(stages))
	args := make([]any, len(stages))
	for i, st := range stages {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	recs, err := s.queryOpRecords(ctx,
		`WHERE stage IN (`+strings.Join(placeholders, ", ")+`) ORDER BY op_order ASC, hash COLLATE BINARY ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("ops in stages: %w", err)
	}
	return recs, nil
}

// OpsByAction returns every op row derived from the action, ordered.
func (s *Store) OpsByAction(ctx context.Context, actionHash ir.Hash) ([]OpRecord, error) {
	recs, err := s.queryOpRecords(ctx,
		`WHERE action_hash = ? ORDER BY op_order ASC, hash COLLATE BINARY ASC`, string(actionHash))
	if err != nil {
		return nil, fmt.Errorf("ops by action: %w", err)
	}
	return recs, nil
}

// setStatus writes a non-terminal status. Integrated rows are never
// touched; only IntegrateOp and resetOps move ops in or out of that stage.
func setStatus(ctx context.Context, db execer, h ir.Hash, st ir.OpStatus) (bool, error) {
	if st.Stage == ir.StageIntegrated {
		return false, &ir.InvariantError{Op: h, Message: "integrated status can only be set by integration"}
	}
	missing, err := marshalHashes(st.Missing)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE operation
		SET stage = ?, validation_status = ?, rejection_reason = ?, missing_deps = ?
		WHERE hash = ? AND when_integrated IS NULL
	`, string(st.Stage), string(st.Validation), st.Reason, missing, string(h))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetSysOutcome records the result of system validation together with the
// actions the op's validity relied on.
func (s *Store) SetSysOutcome(ctx context.Context, h ir.Hash, st ir.OpStatus, deps []ir.Hash) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO op_dependency (op_hash, dep_action) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, string(h), string(d)); err != nil {
				return fmt.Errorf("record dependency: %w", err)
			}
		}
		_, err := setStatus(ctx, tx, h, st)
		return err
	})
	if err != nil {
		return fmt.Errorf("set sys outcome %s: %w", h.Short(), err)
	}
	return nil
}

// SetAppOutcome records the result of app validation.
func (s *Store) SetAppOutcome(ctx context.Context, h ir.Hash, st ir.OpStatus) error {
	if _, err := setStatus(ctx, s.db, h, st); err != nil {
		return fmt.Errorf("set app outcome %s: %w", h.Short(), err)
	}
	return nil
}

// Dependencies returns the actions recorded as dependencies of the op.
func (s *Store) Dependencies(ctx context.Context, h ir.Hash) ([]ir.Hash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dep_action FROM op_dependency WHERE op_hash = ? ORDER BY dep_action
	`, string(h))
	if err != nil {
		return nil, fmt.Errorf("dependencies: %w", err)
	}
	defer rows.Close()
	var out []ir.Hash
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("dependencies: scan: %w", err)
		}
		out = append(out, ir.Hash(d))
	}
	return out, rows.Err()
}

// CountAwaiting returns how many ops waiting on dependencies list h as missing.
func (s *Store) CountAwaiting(ctx context.Context, h ir.Hash) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operation
		WHERE stage IN (?, ?)
		  AND EXISTS (SELECT 1 FROM json_each(operation.missing_deps) WHERE json_each.value = ?)
	`, string(ir.StageAwaitingSysDeps), string(ir.StageAwaitingAppDeps), string(h)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count awaiting: %w", err)
	}
	return n, nil
}

// StageCounts returns the number of ops per status, keyed by OpStatus.String().
// Withdrawn ops count under their current (re-validating) stage.
func (s *Store) StageCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, validation_status, COUNT(*) FROM operation
		GROUP BY stage, validation_status
	`)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage, vs string
		var n int
		if err := rows.Scan(&stage, &vs, &n); err != nil {
			return nil, fmt.Errorf("stage counts: scan: %w", err)
		}
		key := ir.OpStatus{Stage: ir.Stage(stage), Validation: ir.ValidationStatus(vs)}.String()
		counts[key] = n
	}
	return counts, rows.Err()
}
