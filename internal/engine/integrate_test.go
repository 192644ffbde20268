package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/telemetry"
)

func TestIntegrator_ForkRejectsBothSides(t *testing.T) {
	tp := newTestPipeline(t)
	must := mustCommit(t)
	a := newAuthor(t, 1)
	genesis := must(a.Genesis())
	left := must(a.Create(publicType, publicEntry("left")))

	// Rewind the chain and commit a different action at the same seq.
	fork := chain.Resume(newSigner(t, 1), testDNA, genesis.Action)
	right := must(fork.Create(publicType, publicEntry("right")))
	require.Equal(t, left.Action.Action.Seq, right.Action.Action.Seq)
	require.NotEqual(t, left.Hash(), right.Hash())

	ctx := context.Background()
	tp.receive(t, genesis, left)
	tp.drain(t)
	for _, op := range left.Ops() {
		require.Equal(t, integratedValid, tp.record(t, op).Status.String())
	}

	tp.receive(t, right)
	tp.drain(t)

	for _, c := range []chain.Commit{left, right} {
		for _, op := range c.Ops() {
			r := tp.record(t, op)
			assert.Equal(t, integratedRejected, r.Status.String(), "%s", op.Type)
			assert.Contains(t, r.Status.Reason, "chain fork at seq 1")
		}
		reason, rejected, err := tp.store.ActionRejection(ctx, c.Hash())
		require.NoError(t, err)
		assert.True(t, rejected)
		assert.Equal(t, "chain fork at seq 1", reason)
	}
	assert.Equal(t, int64(3), tp.metrics(t)[telemetry.OpsDeintegrated], "left side was withdrawn")

	// Reinstating one side lets it through; the other stays rejected.
	require.NoError(t, tp.Integrator().ReinstateAction(ctx, left.Hash()))
	tp.drain(t)

	for _, op := range left.Ops() {
		assert.Equal(t, integratedValid, tp.record(t, op).Status.String(), "%s", op.Type)
	}
	for _, op := range right.Ops() {
		assert.Equal(t, integratedRejected, tp.record(t, op).Status.String(), "%s", op.Type)
	}
}

func TestIntegrator_RejectActionCascades(t *testing.T) {
	tp := newTestPipeline(t)
	must := mustCommit(t)
	a := newAuthor(t, 1)
	genesis := must(a.Genesis())
	create := must(a.Create(publicType, publicEntry("v1")))
	update := must(a.Update(create, publicEntry("v2")))

	tp.receive(t, genesis, create, update)
	tp.drain(t)
	for _, c := range []chain.Commit{create, update} {
		for _, op := range c.Ops() {
			require.Equal(t, integratedValid, tp.record(t, op).Status.String())
		}
	}
	receipts := len(tp.net.Receipts())

	ctx := context.Background()
	require.NoError(t, tp.Integrator().RejectAction(ctx, create.Hash(), "withdrawn by operator"))
	tp.drain(t)

	for _, op := range create.Ops() {
		r := tp.record(t, op)
		assert.Equal(t, integratedRejected, r.Status.String(), "%s", op.Type)
		assert.Contains(t, r.Status.Reason, "withdrawn by operator")
	}
	for _, op := range update.Ops() {
		assert.Equal(t, integratedRejected, tp.record(t, op).Status.String(), "dependent %s", op.Type)
	}
	assert.Equal(t, int64(len(create.Ops())+len(update.Ops())), tp.metrics(t)[telemetry.OpsDeintegrated])
	assert.Len(t, tp.net.Receipts(), receipts, "re-integration sends no second receipt")

	require.NoError(t, tp.Integrator().ReinstateAction(ctx, create.Hash()))
	tp.drain(t)

	for _, c := range []chain.Commit{create, update} {
		for _, op := range c.Ops() {
			assert.Equal(t, integratedValid, tp.record(t, op).Status.String(), "%s", op.Type)
		}
	}
}

func TestIntegrator_RejectedMetadataIsWithdrawnNotDeleted(t *testing.T) {
	tp := newTestPipeline(t)
	must := mustCommit(t)
	a := newAuthor(t, 1)
	genesis := must(a.Genesis())
	base := addr("base")
	link := must(a.CreateLink(base, addr("target"), 0, 0, nil))

	tp.receive(t, genesis, link)
	tp.drain(t)

	ctx := context.Background()
	links, err := tp.store.LinksOnBase(ctx, base)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, ir.StatusValid, links[0].Validation)

	require.NoError(t, tp.Integrator().RejectAction(ctx, link.Hash(), "spam"))
	tp.drain(t)

	links, err = tp.store.LinksOnBase(ctx, base)
	require.NoError(t, err)
	require.Len(t, links, 1, "the link row is revived with the new verdict")
	assert.Equal(t, ir.StatusRejected, links[0].Validation)
}

func TestIntegrator_ReinstateUnknownIsNoop(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.Integrator().ReinstateAction(context.Background(), "nothing"))
	n, err := tp.Integrator().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
