package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

func TestReceiptFlag(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)

	flagged := opOfType(t, g, ir.OpStoreRecord)
	_, err = s.InsertPendingOp(ctx, PendingOp{Op: flagged, RequireReceipt: true, ReceivedAt: 1})
	require.NoError(t, err)

	tasks, err := s.OpsRequiringReceipt(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks, "only integrated ops are owed receipts")

	require.NoError(t, s.SetSysOutcome(ctx, flagged.Hash(),
		ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusRejected, Reason: "bad"}, nil))
	_, _, err = s.IntegrateOp(ctx, flagged.Hash(), 50)
	require.NoError(t, err)
	integrate(t, s, opOfType(t, g, ir.OpRegisterAgentActivity), ir.StatusValid)

	tasks, err = s.OpsRequiringReceipt(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ReceiptTask{
		OpHash:         flagged.Hash(),
		Author:         a.Key(),
		Validation:     ir.StatusRejected,
		WhenIntegrated: 50,
	}, tasks[0])

	require.NoError(t, s.ClearRequireReceipt(ctx, flagged.Hash()))
	tasks, err = s.OpsRequiringReceipt(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPutReceipt_UniqueValidators(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sign := func(seed byte) ir.SignedReceipt {
		v, err := keys.FromSeed(bytes.Repeat([]byte{seed}, 32))
		require.NoError(t, err)
		r, err := keys.SignReceipt(v, ir.Receipt{OpHash: "op", Status: ir.StatusValid, WhenIntegrated: 9})
		require.NoError(t, err)
		return r
	}
	r1, r2 := sign(1), sign(2)

	stats, err := s.ReceiptStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats)

	for _, r := range []ir.SignedReceipt{r1, r2, r1} {
		_, err := s.PutReceipt(ctx, r, 10)
		require.NoError(t, err)
	}

	n, err := s.ReceiptCount(ctx, "op")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err = s.ReceiptStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReceiptStats{Ops: 1, Receipts: 2}, stats)

	got, err := s.Receipts(ctx, "op")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.True(t, keys.VerifyReceipt(r), "stored receipts keep their signature")
	}
}
