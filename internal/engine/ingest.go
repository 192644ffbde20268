package engine

import (
	"context"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/store"
)

// Origin says where an incoming op came from.
type Origin int

const (
	// OriginNetwork ops were pushed to us by their author or a peer.
	// The author expects a validation receipt.
	OriginNetwork Origin = iota
	// OriginFetch ops were pulled by us to resolve a missing dependency.
	OriginFetch
	// OriginLocal ops were produced by the local author.
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginNetwork:
		return "network"
	case OriginFetch:
		return "fetch"
	case OriginLocal:
		return "local"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// IncomingOp is an op offered for ingestion.
type IncomingOp struct {
	// Hash is the op hash claimed by the sender. Empty means "compute it".
	Hash ir.Hash
	Op   ir.Op
	From ir.AgentKey

	Origin Origin
}

// Drop reasons.
const (
	dropCounterfeit  = "counterfeit"
	dropHashMismatch = "hash_mismatch"
	dropMalformed    = "malformed"
	dropDuplicate    = "duplicate"
	dropConflict     = "conflict"
)

// Ingestor admits incoming ops into validation limbo.
//
// Nothing an untrusted sender does turns into an error: counterfeit,
// malformed and duplicate ops are dropped with a Warn or Debug log and a
// metric. Errors are returned only for storage failures and for malformed
// ops produced locally, which are programming errors.
type Ingestor struct {
	store   *store.Store
	network Network
	sys     *Trigger
	opts    Options
}

// Ingest checks and admits ops. Returns the number newly admitted.
// Sys validation is triggered if anything was admitted.
func (in *Ingestor) Ingest(ctx context.Context, ops []IncomingOp) (int, error) {
	log := in.opts.passLogger("ingest")
	admitted := 0
	defer func() {
		if admitted > 0 {
			in.sys.Signal()
		}
	}()

	for _, inc := range ops {
		op := inc.Op
		h := op.Hash()

		if !keys.VerifyAction(op.Action) {
			log.Warn("dropping op with bad signature", "op_hash", h.Short(), "from", inc.From, "author", op.Action.Action.Author)
			in.opts.Metrics.OpDropped(ctx, dropCounterfeit)
			continue
		}
		if inc.Hash != "" && inc.Hash != h {
			log.Warn("dropping op with mismatched hash", "claimed", inc.Hash.Short(), "op_hash", h.Short(), "from", inc.From)
			in.opts.Metrics.OpDropped(ctx, dropHashMismatch)
			continue
		}
		if err := op.CheckShape(); err != nil {
			if inc.Origin == OriginLocal {
				return admitted, &StageError{Code: ErrCodeInvariant, Stage: "ingest", Op: h, Err: err}
			}
			log.Warn("dropping malformed op", "op_hash", h.Short(), "from", inc.From, "error", err)
			in.opts.Metrics.OpDropped(ctx, dropMalformed)
			continue
		}

		existing, found, err := in.store.LookupOp(ctx, h)
		if err != nil {
			return admitted, storageError("ingest", h, err)
		}
		if found {
			if carried(op) != existing.CarriedEntry {
				// First writer wins; the later payload is never stored.
				log.Warn("dropping op with conflicting payload", "op_hash", h.Short(),
					"stored_entry", existing.CarriedEntry.Short(), "offered_entry", carried(op).Short())
				in.opts.Metrics.OpDropped(ctx, dropConflict)
				continue
			}
			log.Debug("duplicate op", "op_hash", h.Short(), "status", existing.Status.String())
			in.opts.Metrics.OpDropped(ctx, dropDuplicate)
			continue
		}

		inserted, err := in.store.InsertPendingOp(ctx, store.PendingOp{
			Op:             op,
			RequireReceipt: inc.Origin == OriginNetwork,
			ReceivedAt:     in.opts.Clock.Now(),
		})
		if err != nil {
			return admitted, storageError("ingest", h, err)
		}
		if !inserted {
			// Lost a race with a concurrent ingest of the same op.
			in.opts.Metrics.OpDropped(ctx, dropDuplicate)
			continue
		}
		admitted++
		in.opts.Metrics.OpIngested(ctx, string(op.Type))
		log.Debug("op admitted", "op_hash", h.Short(), "op_type", op.Type, "basis", op.Basis().Short(), "origin", inc.Origin)
	}
	return admitted, nil
}

// IngestAuthored admits the ops of a locally authored action and publishes
// them to their authorities, grouped by basis. Publish failures are logged;
// the ops stay admitted locally either way.
func (in *Ingestor) IngestAuthored(ctx context.Context, sa ir.SignedAction, entry *ir.Entry) ([]ir.Op, error) {
	ops := ir.ProduceOps(sa, entry)
	incoming := make([]IncomingOp, len(ops))
	for i, op := range ops {
		incoming[i] = IncomingOp{Op: op, From: sa.Action.Author, Origin: OriginLocal}
	}
	if _, err := in.Ingest(ctx, incoming); err != nil {
		return nil, err
	}
	if in.network == nil {
		return ops, nil
	}

	var order []ir.Hash
	byBasis := make(map[ir.Hash][]ir.Op)
	for _, op := range ops {
		b := op.Basis()
		if _, ok := byBasis[b]; !ok {
			order = append(order, b)
		}
		byBasis[b] = append(byBasis[b], op)
	}
	for _, b := range order {
		if err := in.network.Publish(ctx, b, byBasis[b]); err != nil {
			in.opts.Logger.Warn("publish failed", "basis", b.Short(), "ops", len(byBasis[b]), "error", err)
		}
	}
	return ops, nil
}

func carried(op ir.Op) ir.Hash {
	if op.Entry == nil {
		return ""
	}
	return op.Entry.Hash()
}
