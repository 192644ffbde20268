package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// SysValidator runs the structural checks that need no application code:
// chain linkage, entry integrity, size limits and dependency status.
//
// The previous action is checked for linkage only: it must be stored, by
// the same author, one seq back and no later in time. Its own verdict does
// not carry over, so one rejected action leaves the rest of the chain alone.
//
// Update originals, delete targets and removed links are dependencies: an op
// waits in AwaitingSysDeps until one of the target's record or activity ops
// is integrated, and is rejected if the target was.
type SysValidator struct {
	store   *store.Store
	ingest  *Ingestor
	network Network
	app     *Trigger
	integ   *Trigger
	self    *Trigger
	opts    Options
}

type verdictKind int

const (
	checkPass verdictKind = iota
	checkReject
	checkWait
)

// sysVerdict is the outcome of the checks for one op. deps lists the
// actions the verdict relied on.
type sysVerdict struct {
	kind   verdictKind
	reason string
	wait   ir.Hash
	deps   []ir.Hash
}

func (v *sysVerdict) reject(format string, args ...any) sysVerdict {
	v.kind = checkReject
	v.reason = fmt.Sprintf(format, args...)
	return *v
}

func (v *sysVerdict) waitFor(h ir.Hash) sysVerdict {
	v.kind = checkWait
	v.wait = h
	return *v
}

// RunOnce processes every op in Pending, AwaitingSysDeps and AwaitingAppDeps
// in processing order. Returns the number of ops whose status changed.
//
// Cancellation is checked between ops; an op in flight finishes its write.
func (sv *SysValidator) RunOnce(ctx context.Context) (int, error) {
	log := sv.opts.passLogger("sys")
	recs, err := sv.store.OpsInStages(ctx, ir.StagePending, ir.StageAwaitingSysDeps, ir.StageAwaitingAppDeps)
	if err != nil {
		return 0, storageError("sys", "", err)
	}

	changed := 0
	var waiting []ir.Hash
	toApp, toIntegration := false, false

	for _, r := range recs {
		if ctx.Err() != nil {
			break
		}
		wctx := context.WithoutCancel(ctx)

		if r.Status.Stage == ir.StageAwaitingAppDeps {
			arrived, err := sv.anyPresent(wctx, r.Status.Missing)
			if err != nil {
				return changed, storageError("sys", r.Hash, err)
			}
			if !arrived {
				continue
			}
			if err := sv.store.SetAppOutcome(wctx, r.Hash, ir.OpStatus{Stage: ir.StageSysValidated}); err != nil {
				return changed, storageError("sys", r.Hash, err)
			}
			log.Debug("app dependency arrived", "op_hash", r.Hash.Short())
			changed++
			toApp = true
			continue
		}

		op, rec, err := sv.store.GetOp(wctx, r.Hash)
		if err != nil {
			return changed, storageError("sys", r.Hash, err)
		}
		v, err := sv.check(wctx, op, rec)
		if err != nil {
			return changed, storageError("sys", r.Hash, err)
		}

		var st ir.OpStatus
		switch v.kind {
		case checkReject:
			st = ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusRejected, Reason: v.reason}
			sv.opts.Metrics.OpRejected(wctx, string(op.Type), "sys")
			log.Info("op rejected", "op_hash", r.Hash.Short(), "op_type", op.Type, "reason", v.reason)
			toIntegration = true
		case checkWait:
			waiting = append(waiting, v.wait)
			if r.Status.Stage == ir.StageAwaitingSysDeps && slices.Equal(r.Status.Missing, []ir.Hash{v.wait}) {
				continue
			}
			st = ir.OpStatus{Stage: ir.StageAwaitingSysDeps, Missing: []ir.Hash{v.wait}}
			log.Debug("op awaiting dependency", "op_hash", r.Hash.Short(), "dep", v.wait.Short())
		default:
			if op.Type == ir.OpRegisterAgentActivity {
				st = ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusValid}
				toIntegration = true
			} else {
				st = ir.OpStatus{Stage: ir.StageSysValidated}
				toApp = true
			}
			log.Debug("op passed system validation", "op_hash", r.Hash.Short(), "op_type", op.Type)
		}
		if err := sv.store.SetSysOutcome(wctx, r.Hash, st, v.deps); err != nil {
			return changed, storageError("sys", r.Hash, err)
		}
		changed++
	}

	if toApp {
		sv.app.Signal()
	}
	if toIntegration {
		sv.integ.Signal()
	}
	if sv.opts.FetchMissing && len(waiting) > 0 {
		sv.fetchMissing(context.WithoutCancel(ctx), waiting)
	}
	if changed > 0 {
		log.Info("sys validation pass complete", "changed", changed, "waiting", len(waiting))
	}
	return changed, nil
}

// check runs the structural checks for one op. The first failing check
// decides the verdict.
func (sv *SysValidator) check(ctx context.Context, op ir.Op, rec store.OpRecord) (sysVerdict, error) {
	var v sysVerdict
	a := op.Action.Action
	ah := op.ActionHash()

	if reason, rejected, err := sv.store.ActionRejection(ctx, ah); err != nil {
		return v, err
	} else if rejected {
		return v.reject("action rejected: %s", reason), nil
	}

	if a.IsGenesis() {
		if a.Type != ir.ActionChainOpen {
			return v.reject("seq 0 must be %s, got %s", ir.ActionChainOpen, a.Type), nil
		}
		if !a.PrevAction.IsZero() {
			return v.reject("genesis action has a previous action"), nil
		}
	} else {
		if a.Type == ir.ActionChainOpen {
			return v.reject("%s at seq %d", ir.ActionChainOpen, a.Seq), nil
		}
		if a.PrevAction.IsZero() {
			return v.reject("missing previous action at seq %d", a.Seq), nil
		}
		prev, found, err := sv.store.GetAction(ctx, a.PrevAction)
		if err != nil {
			return v, err
		}
		if !found {
			return v.waitFor(a.PrevAction), nil
		}
		p := prev.Action
		switch {
		case p.Author != a.Author:
			return v.reject("previous action has a different author"), nil
		case a.Seq != p.Seq+1:
			return v.reject("seq %d does not follow previous seq %d", a.Seq, p.Seq), nil
		case a.Timestamp < p.Timestamp:
			return v.reject("timestamp %d before previous action timestamp %d", a.Timestamp, p.Timestamp), nil
		case p.Type == ir.ActionChainClose:
			return v.reject("previous action closed the chain"), nil
		}
	}

	siblings, err := sv.store.ActionsAtSeq(ctx, a.Author, a.Seq)
	if err != nil {
		return v, err
	}
	for _, sib := range siblings {
		if sib.Hash == ah || sib.PrevAction != a.PrevAction {
			continue
		}
		if _, rejected, err := sv.store.ActionRejection(ctx, sib.Hash); err != nil {
			return v, err
		} else if rejected {
			continue
		}
		reason := fmt.Sprintf("chain fork at seq %d", a.Seq)
		for _, h := range []ir.Hash{ah, sib.Hash} {
			if err := rejectAction(ctx, sv.store, sv.opts, h, reason); err != nil {
				return v, err
			}
		}
		sv.self.Signal()
		return v.reject("%s", reason), nil
	}

	switch a.Type {
	case ir.ActionChainOpen:
		if a.DNAHash.IsZero() {
			return v.reject("genesis action without DNA hash"), nil
		}

	case ir.ActionCreate, ir.ActionUpdate:
		if a.EntryType == nil || a.EntryHash.IsZero() {
			return v.reject("%s action without entry type or entry hash", a.Type), nil
		}
		if rec.CarriedEntry != "" {
			if !a.EntryType.IsPublic() {
				return v.reject("private entry published"), nil
			}
			if rec.CarriedEntry != a.EntryHash {
				return v.reject("entry hash %s does not match action entry hash %s",
					rec.CarriedEntry.Short(), a.EntryHash.Short()), nil
			}
		}
		if op.Entry != nil {
			if op.Entry.Kind != a.EntryType.Kind {
				return v.reject("entry kind %s does not match entry type %s", op.Entry.Kind, a.EntryType.Kind), nil
			}
			if op.Entry.Size() > sv.opts.MaxEntryBytes {
				return v.reject("entry is %d bytes, limit %d", op.Entry.Size(), sv.opts.MaxEntryBytes), nil
			}
		}
		if a.Type == ir.ActionUpdate {
			return sv.checkUpdate(ctx, &v, a)
		}

	case ir.ActionDelete:
		if a.DeletesAction.IsZero() || a.DeletesEntry.IsZero() {
			return v.reject("delete without target"), nil
		}
		target, found, err := sv.store.GetAction(ctx, a.DeletesAction)
		if err != nil {
			return v, err
		}
		if !found {
			return v.waitFor(a.DeletesAction), nil
		}
		if !target.Action.Type.HasEntry() {
			return v.reject("delete target is a %s action", target.Action.Type), nil
		}
		if target.Action.EntryHash != a.DeletesEntry {
			return v.reject("delete target entry does not match"), nil
		}
		if done, err := sv.requireDep(ctx, &v, a.DeletesAction, "delete target"); done || err != nil {
			return v, err
		}

	case ir.ActionCreateLink:
		if a.BaseAddress.IsZero() || a.TargetAddress.IsZero() {
			return v.reject("link without base or target"), nil
		}
		if len(a.Tag) > sv.opts.MaxTagBytes {
			return v.reject("link tag is %d bytes, limit %d", len(a.Tag), sv.opts.MaxTagBytes), nil
		}

	case ir.ActionDeleteLink:
		if a.LinkAdd.IsZero() || a.BaseAddress.IsZero() {
			return v.reject("link removal without link"), nil
		}
		add, found, err := sv.store.GetAction(ctx, a.LinkAdd)
		if err != nil {
			return v, err
		}
		if !found {
			return v.waitFor(a.LinkAdd), nil
		}
		if add.Action.Type != ir.ActionCreateLink {
			return v.reject("link removal target is a %s action", add.Action.Type), nil
		}
		if add.Action.BaseAddress != a.BaseAddress {
			return v.reject("link removal base does not match link base"), nil
		}
		if done, err := sv.requireDep(ctx, &v, a.LinkAdd, "removed link"); done || err != nil {
			return v, err
		}
	}
	return v, nil
}

func (sv *SysValidator) checkUpdate(ctx context.Context, v *sysVerdict, a ir.Action) (sysVerdict, error) {
	if a.OriginalAction.IsZero() || a.OriginalEntry.IsZero() {
		return v.reject("update without original"), nil
	}
	orig, found, err := sv.store.GetAction(ctx, a.OriginalAction)
	if err != nil {
		return *v, err
	}
	if !found {
		return v.waitFor(a.OriginalAction), nil
	}
	o := orig.Action
	if !o.Type.HasEntry() || o.EntryType == nil {
		return v.reject("update original is a %s action", o.Type), nil
	}
	if o.EntryHash != a.OriginalEntry {
		return v.reject("update original entry does not match"), nil
	}
	if *o.EntryType != *a.EntryType {
		return v.reject("update changes entry type"), nil
	}
	if _, err := sv.requireDep(ctx, v, a.OriginalAction, "update original"); err != nil {
		return *v, err
	}
	return *v, nil
}

// requireDep applies the dependency status of h to v. Returns true if the
// verdict is decided (rejected or waiting).
func (sv *SysValidator) requireDep(ctx context.Context, v *sysVerdict, h ir.Hash, what string) (bool, error) {
	st, err := sv.store.RecordStatus(ctx, h)
	if err != nil {
		return false, err
	}
	v.deps = append(v.deps, h)
	switch st {
	case store.DepRejected:
		v.reject("%s %s was rejected", what, h.Short())
		return true, nil
	case store.DepValid:
		return false, nil
	default:
		v.waitFor(h)
		return true, nil
	}
}

// anyPresent reports whether any of hs is now stored as an action or entry.
func (sv *SysValidator) anyPresent(ctx context.Context, hs []ir.Hash) (bool, error) {
	for _, h := range hs {
		if _, found, err := sv.store.GetAction(ctx, h); err != nil || found {
			return found, err
		}
		if _, found, err := sv.store.GetEntry(ctx, h); err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// fetchMissing asks the network for dependencies that have no record or
// activity op locally and ingests what comes back. Failures are logged.
func (sv *SysValidator) fetchMissing(ctx context.Context, hs []ir.Hash) {
	fetchAndIngest(ctx, sv.store, sv.network, sv.ingest, sv.opts, "sys", hs)
}

func fetchAndIngest(ctx context.Context, s *store.Store, net Network, in *Ingestor, opts Options, stage string, hs []ir.Hash) {
	if net == nil {
		return
	}
	seen := make(map[ir.Hash]bool)
	for _, h := range hs {
		if seen[h] {
			continue
		}
		seen[h] = true

		need, err := needsFetch(ctx, s, h)
		if err != nil {
			opts.Logger.Warn("fetch check failed", "stage", stage, "hash", h.Short(), "error", err)
			continue
		}
		if !need {
			continue
		}
		ops, err := net.Fetch(ctx, h)
		if err != nil {
			opts.Logger.Warn("fetch failed", "stage", stage, "hash", h.Short(), "error", err)
			continue
		}
		incoming := make([]IncomingOp, len(ops))
		for i, op := range ops {
			incoming[i] = IncomingOp{Op: op, Origin: OriginFetch}
		}
		n, err := in.Ingest(ctx, incoming)
		if err != nil {
			opts.Logger.Warn("ingest fetched ops failed", "stage", stage, "hash", h.Short(), "error", err)
			continue
		}
		opts.Logger.Debug("fetched dependency", "stage", stage, "hash", h.Short(), "ops", len(ops), "admitted", n)
	}
}

// needsFetch reports whether h is neither a stored entry nor an action with
// a local record or activity op.
func needsFetch(ctx context.Context, s *store.Store, h ir.Hash) (bool, error) {
	if _, found, err := s.GetEntry(ctx, h); err != nil || found {
		return false, err
	}
	recs, err := s.OpsByAction(ctx, h)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.Light.Type == ir.OpStoreRecord || r.Light.Type == ir.OpRegisterAgentActivity {
			return false, nil
		}
	}
	return true, nil
}
