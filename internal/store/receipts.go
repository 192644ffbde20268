package store

import (
	"context"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// ReceiptTask is an integrated op whose author is owed a receipt.
type ReceiptTask struct {
	OpHash         ir.Hash
	Author         ir.AgentKey
	Validation     ir.ValidationStatus
	WhenIntegrated ir.Timestamp
}

// OpsRequiringReceipt returns live integrated ops still flagged
// require_receipt, in processing order.
func (s *Store) OpsRequiringReceipt(ctx context.Context) ([]ReceiptTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, author, validation_status, when_integrated FROM operation
		WHERE require_receipt = 1 AND when_integrated IS NOT NULL AND withdrawn = 0
		ORDER BY op_order ASC, hash COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ops requiring receipt: %w", err)
	}
	defer rows.Close()

	var out []ReceiptTask
	for rows.Next() {
		var h, author, vs string
		var when int64
		if err := rows.Scan(&h, &author, &vs, &when); err != nil {
			return nil, fmt.Errorf("ops requiring receipt: scan: %w", err)
		}
		out = append(out, ReceiptTask{
			OpHash:         ir.Hash(h),
			Author:         ir.AgentKey(author),
			Validation:     ir.ValidationStatus(vs),
			WhenIntegrated: ir.Timestamp(when),
		})
	}
	return out, rows.Err()
}

// ClearRequireReceipt unsets the receipt flag on an op.
func (s *Store) ClearRequireReceipt(ctx context.Context, h ir.Hash) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE operation SET require_receipt = 0 WHERE hash = ?`, string(h)); err != nil {
		return fmt.Errorf("clear require receipt: %w", err)
	}
	return nil
}

// PutReceipt stores a receipt received for one of our ops. A validator's
// second receipt for the same op is ignored (inserted=false).
func (s *Store) PutReceipt(ctx context.Context, r ir.SignedReceipt, receivedAt ir.Timestamp) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt (op_hash, validator, status, when_integrated, signature, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(op_hash, validator) DO NOTHING
	`,
		string(r.Receipt.OpHash),
		string(r.Receipt.Validator),
		string(r.Receipt.Status),
		int64(r.Receipt.WhenIntegrated),
		r.Signature,
		int64(receivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("put receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put receipt: %w", err)
	}
	return n > 0, nil
}

// ReceiptCount returns the number of unique validators that sent a receipt
// for the op.
func (s *Store) ReceiptCount(ctx context.Context, opHash ir.Hash) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT validator) FROM receipt WHERE op_hash = ?`, string(opHash)).Scan(&n); err != nil {
		return 0, fmt.Errorf("receipt count: %w", err)
	}
	return n, nil
}

// Receipts returns the stored receipts for the op ordered by validator.
func (s *Store) Receipts(ctx context.Context, opHash ir.Hash) ([]ir.SignedReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT validator, status, when_integrated, signature FROM receipt
		WHERE op_hash = ? ORDER BY validator ASC
	`, string(opHash))
	if err != nil {
		return nil, fmt.Errorf("receipts: %w", err)
	}
	defer rows.Close()

	var out []ir.SignedReceipt
	for rows.Next() {
		var validator, status string
		var when int64
		var sig []byte
		if err := rows.Scan(&validator, &status, &when, &sig); err != nil {
			return nil, fmt.Errorf("receipts: scan: %w", err)
		}
		out = append(out, ir.SignedReceipt{
			Receipt: ir.Receipt{
				OpHash:         opHash,
				Status:         ir.ValidationStatus(status),
				Validator:      ir.AgentKey(validator),
				WhenIntegrated: ir.Timestamp(when),
			},
			Signature: sig,
		})
	}
	return out, rows.Err()
}

// ReceiptStats summarizes the receipts held for our own ops.
type ReceiptStats struct {
	// Ops is the number of ops with at least one receipt.
	Ops int `json:"ops"`
	// Receipts counts receipts, one per validator and op.
	Receipts int `json:"receipts"`
}

// ReceiptStats returns totals over every stored receipt.
func (s *Store) ReceiptStats(ctx context.Context) (ReceiptStats, error) {
	var st ReceiptStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT op_hash), COUNT(*) FROM receipt`).Scan(&st.Ops, &st.Receipts); err != nil {
		return ReceiptStats{}, fmt.Errorf("receipt stats: %w", err)
	}
	return st, nil
}
