package engine

import (
	"context"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// Integrator is the only stage that integrates ops. It commits ops from
// AwaitingIntegration in processing order and keeps the index honest when
// verdicts on depended-upon actions change.
//
// Explicit rejections, from an operator or a detected fork, withdraw
// integrated ops in the same transaction that records them, and
// integration re-reads the rejection table in its own transaction. Either
// order leaves a rejected action's ops integrated as rejected.
type Integrator struct {
	store   *store.Store
	sys     *Trigger
	receipt *Trigger
	opts    Options
}

// RunOnce integrates every op in AwaitingIntegration. Returns the number
// integrated.
func (ig *Integrator) RunOnce(ctx context.Context) (int, error) {
	log := ig.opts.passLogger("integrate")
	recs, err := ig.store.OpsInStages(ctx, ir.StageAwaitingIntegration)
	if err != nil {
		return 0, storageError("integrate", "", err)
	}

	integrated := 0
	wakeSys := false
	defer func() {
		if wakeSys {
			ig.sys.Signal()
		}
		if integrated > 0 {
			ig.receipt.Signal()
		}
	}()

	for _, r := range recs {
		if ctx.Err() != nil {
			break
		}
		wctx := context.WithoutCancel(ctx)

		prev, ok, err := ig.store.IntegrateOp(wctx, r.Hash, ig.opts.Clock.Now())
		if err != nil {
			return integrated, storageError("integrate", r.Hash, err)
		}
		if !ok {
			continue
		}
		integrated++
		vs := prev.Status.Validation
		ig.opts.Metrics.OpIntegrated(wctx, string(r.Light.Type), string(vs))
		log.Info("op integrated", "op_hash", r.Hash.Short(), "op_type", r.Light.Type,
			"basis", r.Light.Basis.Short(), "status", vs)

		action := r.Light.ActionHash
		recordOp := r.Light.Type == ir.OpStoreRecord || r.Light.Type == ir.OpRegisterAgentActivity
		switch {
		case vs == ir.StatusRejected && recordOp:
			w, err := ig.store.WithdrawDependents(wctx, action)
			if err != nil {
				return integrated, storageError("integrate", r.Hash, err)
			}
			if !w.Empty() {
				ig.opts.Metrics.OpsDeintegrated(wctx, len(w.Reset))
				log.Info("dependents returned for re-validation", "action", action.Short(),
					"withdrawn", len(w.Reset), "requeued", w.Requeued)
				wakeSys = true
			}
		case vs == ir.StatusValid && prev.Withdrawn && recordOp:
			// A reinstated action: dependents that were rejected because of
			// it get another look.
			reset, err := ig.store.ResetOps(wctx, store.ResetScope{Action: action, Validation: ir.StatusRejected})
			if err != nil {
				return integrated, storageError("integrate", r.Hash, err)
			}
			if len(reset) > 0 {
				ig.opts.Metrics.OpsDeintegrated(wctx, len(reset))
				log.Info("rejected dependents returned for re-validation", "action", action.Short(), "reset", len(reset))
				wakeSys = true
			}
		}

		for _, h := range []ir.Hash{action, r.Light.EntryHash, r.Hash} {
			if h.IsZero() {
				continue
			}
			n, err := ig.store.CountAwaiting(wctx, h)
			if err != nil {
				return integrated, storageError("integrate", r.Hash, err)
			}
			if n > 0 {
				wakeSys = true
			}
		}
	}
	return integrated, nil
}

// RejectAction records an explicit rejection of an action and withdraws
// everything built on it: the action's own integrated ops, its dependents,
// and any of them still in limbo return to Pending and are rejected or
// re-validated on the next sys pass.
func (ig *Integrator) RejectAction(ctx context.Context, h ir.Hash, reason string) error {
	if err := rejectAction(ctx, ig.store, ig.opts, h, reason); err != nil {
		return storageError("integrate", "", err)
	}
	ig.sys.Signal()
	return nil
}

// ReinstateAction clears an explicit rejection. The action's ops that were
// integrated as rejected, and their rejected dependents, return to Pending
// for re-validation.
func (ig *Integrator) ReinstateAction(ctx context.Context, h ir.Hash) error {
	w, cleared, err := ig.store.ReinstateAction(ctx, h)
	if err != nil {
		return storageError("integrate", "", err)
	}
	if !cleared {
		return nil
	}
	ig.opts.Metrics.OpsDeintegrated(ctx, len(w.Reset))
	ig.opts.Logger.Info("action reinstated", "action", h.Short(), "reset", len(w.Reset), "requeued", w.Requeued)
	ig.sys.Signal()
	return nil
}

func rejectAction(ctx context.Context, s *store.Store, opts Options, h ir.Hash, reason string) error {
	w, marked, err := s.RejectAction(ctx, h, reason, opts.Clock.Now())
	if err != nil || !marked {
		return err
	}
	opts.Metrics.OpsDeintegrated(ctx, len(w.Reset))
	opts.Logger.Info("action rejected", "action", h.Short(), "reason", reason, "withdrawn", len(w.Reset), "requeued", w.Requeued)
	return nil
}
