package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// IntegrateOp commits an op from AwaitingIntegration into the integrated
// index together with its derived metadata, in one transaction.
//
// The update is guarded on stage and when_integrated IS NULL, so two
// integration attempts for the same op hash cannot both succeed. An op whose
// action carries an explicit rejection is integrated as rejected whatever
// verdict it arrived with. Returns the row as it was before integration,
// with the verdict it was integrated under, and whether this call
// integrated it.
func (s *Store) IntegrateOp(ctx context.Context, h ir.Hash, when ir.Timestamp) (prev OpRecord, integrated bool, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+opColumns+` FROM operation WHERE hash = ?`, string(h))
		r, err := scanOpRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read op: %w", err)
		}
		prev = r
		if r.Status.Stage != ir.StageAwaitingIntegration {
			return nil
		}
		vs := r.Status.Validation
		if vs != ir.StatusValid && vs != ir.StatusRejected {
			return &ir.InvariantError{Op: h, Message: fmt.Sprintf("awaiting integration without verdict (%q)", vs)}
		}
		if vs == ir.StatusValid {
			var reason string
			err := tx.QueryRowContext(ctx, `SELECT reason FROM action_rejection WHERE action_hash = ?`,
				string(r.Light.ActionHash)).Scan(&reason)
			switch {
			case err == nil:
				r.Status.Validation = ir.StatusRejected
				r.Status.Reason = "action rejected: " + reason
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("read action rejection: %w", err)
			}
		}
		prev = r

		res, err := tx.ExecContext(ctx, `
			UPDATE operation
			SET stage = ?, validation_status = ?, rejection_reason = ?, when_integrated = ?,
			    withdrawn = 0, missing_deps = '[]'
			WHERE hash = ? AND stage = ? AND when_integrated IS NULL
		`, string(ir.StageIntegrated), string(r.Status.Validation), r.Status.Reason, int64(when),
			string(h), string(ir.StageAwaitingIntegration))
		if err != nil {
			return fmt.Errorf("mark integrated: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		var blob string
		if err := tx.QueryRowContext(ctx, `SELECT blob FROM action WHERE hash = ?`,
			string(r.Light.ActionHash)).Scan(&blob); err != nil {
			return fmt.Errorf("read action: %w", err)
		}
		sa, err := unmarshalSignedAction(blob)
		if err != nil {
			return err
		}
		if err := writeMetadata(ctx, tx, r, sa.Action); err != nil {
			return err
		}
		integrated = true
		return nil
	})
	if err != nil {
		return OpRecord{}, false, fmt.Errorf("integrate op %s: %w", h.Short(), err)
	}
	return prev, integrated, nil
}

// writeMetadata updates the derived index for the op's variant. Rows are
// upserted so re-integration after a withdrawal revives the same row.
func writeMetadata(ctx context.Context, tx *sql.Tx, r OpRecord, a ir.Action) error {
	vs := string(r.Status.Validation)
	op := string(r.Hash)
	ah := string(r.Light.ActionHash)

	var err error
	switch r.Light.Type {
	case ir.OpStoreRecord, ir.OpStoreEntry:
		// Content is already addressable; the integrated row is the record.
	case ir.OpRegisterAgentActivity:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_activity (op_hash, author, seq, action_hash, validation_status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(op_hash) DO UPDATE SET validation_status = excluded.validation_status, withdrawn = 0
		`, op, string(a.Author), a.Seq, ah, vs)
	case ir.OpRegisterUpdatedContent, ir.OpRegisterUpdatedRecord:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_update (op_hash, update_hash, original_action, original_entry, new_entry, validation_status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(op_hash) DO UPDATE SET validation_status = excluded.validation_status, withdrawn = 0
		`, op, ah, string(a.OriginalAction), string(a.OriginalEntry), string(a.EntryHash), vs)
	case ir.OpRegisterDeletedBy, ir.OpRegisterDeletedEntryAction:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_delete (op_hash, delete_hash, deletes_action, deletes_entry, validation_status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(op_hash) DO UPDATE SET validation_status = excluded.validation_status, withdrawn = 0
		`, op, ah, string(a.DeletesAction), string(a.DeletesEntry), vs)
	case ir.OpRegisterCreateLink:
		tag := a.Tag
		if tag == nil {
			tag = []byte{}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO link (op_hash, create_hash, base, target, zome_index, link_type, tag, author, timestamp, validation_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(op_hash) DO UPDATE SET validation_status = excluded.validation_status, withdrawn = 0
		`, op, ah, string(a.BaseAddress), string(a.TargetAddress), a.ZomeIndex, a.LinkType, tag,
			string(a.Author), int64(a.Timestamp), vs)
	case ir.OpRegisterDeleteLink:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO link_delete (op_hash, delete_hash, link_add, base, validation_status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(op_hash) DO UPDATE SET validation_status = excluded.validation_status, withdrawn = 0
		`, op, ah, string(a.LinkAdd), string(a.BaseAddress), vs)
	default:
		return &ir.InvariantError{Op: r.Hash, Message: fmt.Sprintf("no metadata rule for op type %q", r.Light.Type)}
	}
	if err != nil {
		return fmt.Errorf("write %s metadata: %w", r.Light.Type, err)
	}
	return nil
}

var metadataTables = []string{"agent_activity", "record_update", "record_delete", "link", "link_delete"}

// ResetScope selects the integrated ops that ResetOps returns to Pending.
type ResetScope struct {
	// Action whose dependents are reset.
	Action ir.Hash

	// IncludeOwn also resets the ops derived from Action itself.
	IncludeOwn bool

	// Validation limits the reset to ops integrated with this verdict.
	// Empty matches both.
	Validation ir.ValidationStatus
}

// ResetOps de-integrates the ops selected by scope: their integrated row and
// metadata are flagged withdrawn (never deleted) and they return to Pending
// for re-validation. Returns the reset op hashes in processing order.
func (s *Store) ResetOps(ctx context.Context, scope ResetScope) ([]ir.Hash, error) {
	var reset []ir.Hash
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		reset, err = resetOps(ctx, tx, scope)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reset ops for %s: %w", scope.Action.Short(), err)
	}
	return reset, nil
}

func resetOps(ctx context.Context, tx *sql.Tx, scope ResetScope) ([]ir.Hash, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT hash FROM operation
		WHERE when_integrated IS NOT NULL
		  AND (? = '' OR validation_status = ?)
		  AND (hash IN (SELECT op_hash FROM op_dependency WHERE dep_action = ?)
		       OR (? = 1 AND action_hash = ?))
		ORDER BY op_order ASC, hash COLLATE BINARY ASC
	`,
		string(scope.Validation), string(scope.Validation),
		string(scope.Action),
		boolToInt(scope.IncludeOwn), string(scope.Action),
	)
	if err != nil {
		return nil, fmt.Errorf("select ops: %w", err)
	}
	var reset []ir.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		reset = append(reset, ir.Hash(h))
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, h := range reset {
		if _, err := tx.ExecContext(ctx, `
			UPDATE operation
			SET stage = ?, validation_status = '', rejection_reason = '', missing_deps = '[]',
			    when_integrated = NULL, withdrawn = 1
			WHERE hash = ?
		`, string(ir.StagePending), string(h)); err != nil {
			return nil, fmt.Errorf("reset op: %w", err)
		}
		for _, table := range metadataTables {
			if _, err := tx.ExecContext(ctx,
				`UPDATE `+table+` SET withdrawn = 1 WHERE op_hash = ?`, string(h)); err != nil {
				return nil, fmt.Errorf("withdraw %s: %w", table, err)
			}
		}
		// Dependencies are recorded again on re-validation.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM op_dependency WHERE op_hash = ?`, string(h)); err != nil {
			return nil, fmt.Errorf("clear dependencies: %w", err)
		}
	}
	return reset, nil
}

// Withdrawal lists what a change of verdict on an action sent back for
// re-validation.
type Withdrawal struct {
	// Reset are the integrated ops returned to Pending, in processing order.
	Reset []ir.Hash
	// Requeued counts the ops in limbo returned to Pending.
	Requeued int
}

// Empty reports whether nothing was sent back.
func (w Withdrawal) Empty() bool { return len(w.Reset) == 0 && w.Requeued == 0 }

// withdraw resets the integrated ops in scope and requeues those in limbo.
func withdraw(ctx context.Context, tx *sql.Tx, scope ResetScope) (Withdrawal, error) {
	reset, err := resetOps(ctx, tx, scope)
	if err != nil {
		return Withdrawal{}, err
	}
	n, err := requeueLimbo(ctx, tx, scope)
	if err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{Reset: reset, Requeued: n}, nil
}

// WithdrawDependents sends every valid op that relied on the action back for
// re-validation, integrated or still in limbo, in one transaction.
func (s *Store) WithdrawDependents(ctx context.Context, action ir.Hash) (Withdrawal, error) {
	var w Withdrawal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = withdraw(ctx, tx, ResetScope{Action: action, Validation: ir.StatusValid})
		return err
	})
	if err != nil {
		return Withdrawal{}, fmt.Errorf("withdraw dependents of %s: %w", action.Short(), err)
	}
	return w, nil
}

// DepStatus is what the pipeline currently knows about a dependency action.
type DepStatus int

const (
	// DepMissing means the action is not stored locally.
	DepMissing DepStatus = iota
	// DepPending means the action is stored but none of its record or
	// activity ops is integrated yet.
	DepPending
	// DepValid means an integrated record or activity op for it is valid.
	DepValid
	// DepRejected means the action was rejected, either explicitly or by an
	// integrated record or activity op.
	DepRejected
)

func (d DepStatus) String() string {
	switch d {
	case DepMissing:
		return "missing"
	case DepPending:
		return "pending"
	case DepValid:
		return "valid"
	case DepRejected:
		return "rejected"
	default:
		return fmt.Sprintf("DepStatus(%d)", int(d))
	}
}

// RecordStatus reports the dependency status of an action. Rejection wins
// over validity so a single rejected record op is enough to poison the
// action for its dependents.
func (s *Store) RecordStatus(ctx context.Context, actionHash ir.Hash) (DepStatus, error) {
	if _, rejected, err := s.ActionRejection(ctx, actionHash); err != nil {
		return DepMissing, err
	} else if rejected {
		return DepRejected, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT validation_status FROM operation
		WHERE action_hash = ? AND when_integrated IS NOT NULL AND op_type IN (?, ?)
	`, string(actionHash), string(ir.OpStoreRecord), string(ir.OpRegisterAgentActivity))
	if err != nil {
		return DepMissing, fmt.Errorf("record status: %w", err)
	}
	defer rows.Close()

	status := DepMissing
	for rows.Next() {
		var vs string
		if err := rows.Scan(&vs); err != nil {
			return DepMissing, fmt.Errorf("record status: scan: %w", err)
		}
		switch ir.ValidationStatus(vs) {
		case ir.StatusRejected:
			return DepRejected, nil
		case ir.StatusValid:
			status = DepValid
		}
	}
	if err := rows.Err(); err != nil {
		return DepMissing, err
	}
	rows.Close()
	if status == DepValid {
		return status, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM action WHERE hash = ?`, string(actionHash)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return DepMissing, nil
	}
	if err != nil {
		return DepMissing, fmt.Errorf("record status: %w", err)
	}
	return DepPending, nil
}

// RejectAction records an explicit rejection of an action, e.g. one side of
// a chain fork, and sends the action's own valid ops and its valid
// dependents back for re-validation. The rejection and the withdrawal commit
// together. Returns false if the action was already rejected, in which case
// nothing changes.
func (s *Store) RejectAction(ctx context.Context, h ir.Hash, reason string, at ir.Timestamp) (Withdrawal, bool, error) {
	var (
		w      Withdrawal
		marked bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO action_rejection (action_hash, reason, rejected_at)
			VALUES (?, ?, ?)
			ON CONFLICT(action_hash) DO NOTHING
		`, string(h), reason, int64(at))
		if err != nil {
			return fmt.Errorf("mark rejected: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark rejected: %w", err)
		}
		if n == 0 {
			return nil
		}
		marked = true
		w, err = withdraw(ctx, tx, ResetScope{Action: h, IncludeOwn: true, Validation: ir.StatusValid})
		return err
	})
	if err != nil {
		return Withdrawal{}, false, fmt.Errorf("reject action %s: %w", h.Short(), err)
	}
	return w, marked, nil
}

// ReinstateAction clears an explicit rejection and sends the action's own
// rejected ops and its rejected dependents back for re-validation, in one
// transaction. Returns false if the action was not rejected.
func (s *Store) ReinstateAction(ctx context.Context, h ir.Hash) (Withdrawal, bool, error) {
	var (
		w       Withdrawal
		cleared bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM action_rejection WHERE action_hash = ?`, string(h))
		if err != nil {
			return fmt.Errorf("clear rejection: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("clear rejection: %w", err)
		}
		if n == 0 {
			return nil
		}
		cleared = true
		w, err = withdraw(ctx, tx, ResetScope{Action: h, IncludeOwn: true, Validation: ir.StatusRejected})
		return err
	})
	if err != nil {
		return Withdrawal{}, false, fmt.Errorf("reinstate action %s: %w", h.Short(), err)
	}
	return w, cleared, nil
}

// ActionRejection returns the recorded rejection reason for an action.
func (s *Store) ActionRejection(ctx context.Context, h ir.Hash) (string, bool, error) {
	var reason string
	err := s.db.QueryRowContext(ctx,
		`SELECT reason FROM action_rejection WHERE action_hash = ?`, string(h)).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("action rejection: %w", err)
	}
	return reason, true, nil
}

// requeueLimbo sends ops that passed system validation but are not yet
// integrated back to Pending, so no stale verdict reaches the integrated
// index after the verdict on scope.Action changes. It selects ops that
// recorded the action as a dependency and, with IncludeOwn, the action's own
// ops. A set Validation limits the requeue to ops carrying that verdict or
// none yet.
func requeueLimbo(ctx context.Context, tx *sql.Tx, scope ResetScope) (int, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE operation
		SET stage = ?, validation_status = '', rejection_reason = '', missing_deps = '[]'
		WHERE when_integrated IS NULL
		  AND stage IN (?, ?, ?)
		  AND (? = '' OR validation_status IN ('', ?))
		  AND (hash IN (SELECT op_hash FROM op_dependency WHERE dep_action = ?)
		       OR (? = 1 AND action_hash = ?))
	`,
		string(ir.StagePending),
		string(ir.StageSysValidated), string(ir.StageAwaitingAppDeps), string(ir.StageAwaitingIntegration),
		string(scope.Validation), string(scope.Validation),
		string(scope.Action),
		boolToInt(scope.IncludeOwn), string(scope.Action),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue limbo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue limbo: %w", err)
	}
	return int(n), nil
}
