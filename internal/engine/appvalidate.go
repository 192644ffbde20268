package engine

import (
	"context"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// AppValidator hands system-validated ops to the application's validation
// collaborator.
type AppValidator struct {
	store   *store.Store
	app     AppValidation
	ingest  *Ingestor
	network Network
	integ   *Trigger
	opts    Options
}

// RunOnce validates every op in SysValidated. Returns the number of ops
// whose status changed.
//
// A collaborator error stops the pass with an APP_VALIDATION StageError;
// the op keeps its status and is retried on the next trigger.
func (av *AppValidator) RunOnce(ctx context.Context) (int, error) {
	log := av.opts.passLogger("app")
	recs, err := av.store.OpsInStages(ctx, ir.StageSysValidated)
	if err != nil {
		return 0, storageError("app", "", err)
	}

	changed := 0
	toIntegration := false
	var missing []ir.Hash
	defer func() {
		if toIntegration {
			av.integ.Signal()
		}
	}()

	for _, r := range recs {
		if ctx.Err() != nil {
			break
		}
		if r.Light.Type == ir.OpRegisterAgentActivity {
			return changed, invariantError("app", r.Hash, "activity op reached app validation")
		}

		op, _, err := av.store.GetOp(ctx, r.Hash)
		if err != nil {
			return changed, storageError("app", r.Hash, err)
		}
		out, err := av.app.Validate(ctx, op, av.store)
		if err != nil {
			return changed, &StageError{Code: ErrCodeAppValidation, Stage: "app", Op: r.Hash, Err: err}
		}

		wctx := context.WithoutCancel(ctx)
		var st ir.OpStatus
		switch out.Verdict {
		case VerdictValid:
			st = ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusValid}
			log.Debug("op passed app validation", "op_hash", r.Hash.Short(), "op_type", op.Type)
		case VerdictInvalid:
			st = ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusRejected, Reason: out.Reason}
			av.opts.Metrics.OpRejected(wctx, string(op.Type), "app")
			log.Info("op rejected", "op_hash", r.Hash.Short(), "op_type", op.Type, "reason", out.Reason)
		case VerdictUnresolved:
			absent, err := av.absent(wctx, out.Missing)
			if err != nil {
				return changed, storageError("app", r.Hash, err)
			}
			// Waiting on something already held would never be woken.
			if len(absent) == 0 {
				return changed, &StageError{Code: ErrCodeAppValidation, Stage: "app", Op: r.Hash,
					Err: fmt.Errorf("unresolved outcome names no missing dependency")}
			}
			st = ir.OpStatus{Stage: ir.StageAwaitingAppDeps, Missing: absent}
			missing = append(missing, absent...)
			log.Debug("op awaiting app dependencies", "op_hash", r.Hash.Short(), "missing", len(absent))
		default:
			return changed, invariantError("app", r.Hash, fmt.Sprintf("unknown verdict %v", out.Verdict))
		}
		if err := av.store.SetAppOutcome(wctx, r.Hash, st); err != nil {
			return changed, storageError("app", r.Hash, err)
		}
		changed++
		if out.Verdict != VerdictUnresolved {
			toIntegration = true
		}
	}

	if av.opts.FetchMissing && len(missing) > 0 {
		fetchAndIngest(context.WithoutCancel(ctx), av.store, av.network, av.ingest, av.opts, "app", missing)
	}
	return changed, nil
}

// absent filters hs down to the hashes stored neither as an action nor as
// an entry.
func (av *AppValidator) absent(ctx context.Context, hs []ir.Hash) ([]ir.Hash, error) {
	var out []ir.Hash
	for _, h := range hs {
		if _, found, err := av.store.GetAction(ctx, h); err != nil {
			return nil, err
		} else if found {
			continue
		}
		if _, found, err := av.store.GetEntry(ctx, h); err != nil {
			return nil, err
		} else if found {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
