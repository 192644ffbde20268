package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/ir"
)

func TestInsertPendingOp_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	op := opOfType(t, g, ir.OpStoreRecord)

	inserted, err := s.InsertPendingOp(ctx, PendingOp{Op: op, RequireReceipt: true, ReceivedAt: 5})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertPendingOp(ctx, PendingOp{Op: op, ReceivedAt: 6})
	require.NoError(t, err)
	assert.False(t, inserted)

	rec, found, err := s.LookupOp(ctx, op.Hash())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ir.StagePending, rec.Status.Stage)
	assert.True(t, rec.RequireReceipt, "first writer wins")
	assert.Equal(t, ir.Timestamp(5), rec.ReceivedAt)
	assert.Equal(t, op.Order().String(), rec.Order)
}

func TestInsertPendingOp_StagesContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	_, err := a.Genesis()
	require.NoError(t, err)
	x := publicEntry("x")
	c, err := a.Create(chain.AppEntry(0, 0, ir.Public), x)
	require.NoError(t, err)

	insert(t, s, opOfType(t, c, ir.OpStoreEntry))

	sa, found, err := s.GetAction(ctx, c.Hash())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, c.Hash(), sa.Hash())
	assert.Equal(t, c.Action.Signature, sa.Signature)

	e, found, err := s.GetEntry(ctx, x.Hash())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, x, e)
}

func TestInsertPendingOp_PrivateEntryNotStaged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	_, err := a.Genesis()
	require.NoError(t, err)
	secret := publicEntry("secret")
	c, err := a.Create(chain.AppEntry(0, 0, ir.Private), secret)
	require.NoError(t, err)

	// A peer attaching a private entry to a record op.
	op := ir.Op{Type: ir.OpStoreRecord, Action: c.Action, Entry: &secret}
	insert(t, s, op)

	_, found, err := s.GetEntry(ctx, secret.Hash())
	require.NoError(t, err)
	assert.False(t, found)

	got, rec, err := s.GetOp(ctx, op.Hash())
	require.NoError(t, err)
	assert.Nil(t, got.Entry)
	assert.Equal(t, secret.Hash(), rec.CarriedEntry)
}

func TestGetOp_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	_, err := a.Genesis()
	require.NoError(t, err)
	c, err := a.CreateLink("base", "target", 1, 2, []byte{0, 1, 2})
	require.NoError(t, err)
	op := opOfType(t, c, ir.OpRegisterCreateLink)
	insert(t, s, op)

	got, rec, err := s.GetOp(ctx, op.Hash())
	require.NoError(t, err)
	assert.Equal(t, op.Hash(), got.Hash())
	assert.Equal(t, op.Light(), rec.Light)
	assert.Equal(t, []byte{0, 1, 2}, got.Action.Action.Tag)

	_, _, err = s.GetOp(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpsInStages_ProcessingOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	c, err := a.Create(chain.AppEntry(0, 0, ir.Public), publicEntry("x"))
	require.NoError(t, err)

	// Insert in reverse of the expected order.
	ops := append(c.Ops(), g.Ops()...)
	for i := len(ops) - 1; i >= 0; i-- {
		insert(t, s, ops[i])
	}

	recs, err := s.OpsInStages(ctx, ir.StagePending)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	var got []ir.OpType
	for _, r := range recs {
		got = append(got, r.Light.Type)
	}
	assert.Equal(t, []ir.OpType{
		ir.OpRegisterAgentActivity, // genesis
		ir.OpRegisterAgentActivity, // create
		ir.OpStoreEntry,
		ir.OpStoreRecord, // genesis
		ir.OpStoreRecord, // create
	}, got)
	assert.Equal(t, g.Hash(), recs[0].Light.ActionHash)
	assert.Equal(t, c.Hash(), recs[1].Light.ActionHash)

	none, err := s.OpsInStages(ctx, ir.StageIntegrated)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetSysOutcome(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	_, err := a.Genesis()
	require.NoError(t, err)
	c, err := a.Create(chain.AppEntry(0, 0, ir.Public), publicEntry("x"))
	require.NoError(t, err)
	op := opOfType(t, c, ir.OpStoreRecord)
	insert(t, s, op)

	prev := c.Action.Action.PrevAction
	require.NoError(t, s.SetSysOutcome(ctx, op.Hash(),
		ir.OpStatus{Stage: ir.StageAwaitingSysDeps, Missing: []ir.Hash{prev}}, nil))

	rec, _, err := s.LookupOp(ctx, op.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir.StageAwaitingSysDeps, rec.Status.Stage)
	assert.Equal(t, []ir.Hash{prev}, rec.Status.Missing)

	n, err := s.CountAwaiting(ctx, prev)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.SetSysOutcome(ctx, op.Hash(),
		ir.OpStatus{Stage: ir.StageSysValidated}, []ir.Hash{prev}))
	rec, _, err = s.LookupOp(ctx, op.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir.StageSysValidated, rec.Status.Stage)
	assert.Empty(t, rec.Status.Missing)

	deps, err := s.Dependencies(ctx, op.Hash())
	require.NoError(t, err)
	assert.Equal(t, []ir.Hash{prev}, deps)

	n, err = s.CountAwaiting(ctx, prev)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetStatus_RefusesIntegrated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	op := opOfType(t, g, ir.OpStoreRecord)
	insert(t, s, op)

	err = s.SetAppOutcome(ctx, op.Hash(), ir.OpStatus{Stage: ir.StageIntegrated, Validation: ir.StatusValid})
	assert.True(t, ir.IsInvariant(err))
}

func TestSetAppOutcome_IgnoresIntegratedRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	op := opOfType(t, g, ir.OpStoreRecord)
	integrate(t, s, op, ir.StatusValid)

	require.NoError(t, s.SetAppOutcome(ctx, op.Hash(), ir.OpStatus{Stage: ir.StagePending}))

	rec, _, err := s.LookupOp(ctx, op.Hash())
	require.NoError(t, err)
	assert.Equal(t, ir.StageIntegrated, rec.Status.Stage)
}

func TestStageCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)

	integrate(t, s, opOfType(t, g, ir.OpStoreRecord), ir.StatusValid)
	insert(t, s, opOfType(t, g, ir.OpRegisterAgentActivity))

	counts, err := s.StageCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"integrated(valid)": 1,
		"pending":           1,
	}, counts)
}

func TestOpsByAction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	for _, op := range g.Ops() {
		insert(t, s, op)
	}

	recs, err := s.OpsByAction(ctx, g.Hash())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ir.OpRegisterAgentActivity, recs[0].Light.Type)
	assert.Equal(t, ir.OpStoreRecord, recs[1].Light.Type)
}
