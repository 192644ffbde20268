package engine

import (
	"context"
	"log/slog"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// ReceiptSender tells authors their ops were integrated.
//
// Delivery is attempted exactly once per integrated op: the require-receipt
// flag is cleared after the attempt whether or not it succeeded. Retrying is
// the network collaborator's business.
type ReceiptSender struct {
	store   *store.Store
	network Network
	signer  keys.Signer
	opts    Options
}

// RunOnce sends a receipt for every integrated op still flagged for one.
// Returns the number of ops processed.
func (rs *ReceiptSender) RunOnce(ctx context.Context) (int, error) {
	log := rs.opts.passLogger("receipt")
	tasks, err := rs.store.OpsRequiringReceipt(ctx)
	if err != nil {
		return 0, storageError("receipt", "", err)
	}

	done := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		wctx := context.WithoutCancel(ctx)

		switch {
		case rs.network == nil || rs.signer == nil:
			log.Debug("no network, receipt not sent", "op_hash", task.OpHash.Short())
		case task.Author == rs.signer.AgentKey():
			// Our own op; nobody to tell.
		default:
			rs.send(wctx, log, task)
		}
		if err := rs.store.ClearRequireReceipt(wctx, task.OpHash); err != nil {
			return done, storageError("receipt", task.OpHash, err)
		}
		done++
	}
	return done, nil
}

func (rs *ReceiptSender) send(ctx context.Context, log *slog.Logger, task store.ReceiptTask) {
	r, err := keys.SignReceipt(rs.signer, ir.Receipt{
		OpHash:         task.OpHash,
		Status:         task.Validation,
		WhenIntegrated: task.WhenIntegrated,
	})
	if err != nil {
		log.Warn("sign receipt failed", "op_hash", task.OpHash.Short(), "error", err)
		rs.opts.Metrics.ReceiptFailed(ctx)
		return
	}
	if err := rs.network.SendReceipt(ctx, task.Author, r); err != nil {
		log.Warn("receipt delivery failed", "op_hash", task.OpHash.Short(), "to", task.Author, "error", err)
		rs.opts.Metrics.ReceiptFailed(ctx)
		return
	}
	rs.opts.Metrics.ReceiptSent(ctx)
	log.Debug("receipt sent", "op_hash", task.OpHash.Short(), "to", task.Author, "status", task.Validation)
}

// ReceiveReceipts stores receipts returned to us as an author. Receipts
// with a bad signature are dropped. Returns the number newly stored; a
// validator is counted once per op.
func (rs *ReceiptSender) ReceiveReceipts(ctx context.Context, receipts []ir.SignedReceipt) (int, error) {
	stored := 0
	for _, r := range receipts {
		if !keys.VerifyReceipt(r) {
			rs.opts.Logger.Warn("dropping receipt with bad signature",
				"op_hash", r.Receipt.OpHash.Short(), "validator", r.Receipt.Validator)
			continue
		}
		inserted, err := rs.store.PutReceipt(ctx, r, rs.opts.Clock.Now())
		if err != nil {
			return stored, storageError("receipt", r.Receipt.OpHash, err)
		}
		if inserted {
			stored++
		}
	}
	return stored, nil
}
