package store

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/ir"
)

// Four authors commit the same shapes at the same timestamps, so every
// ordered query ties on its leading keys and falls back to the hash.
func TestOrderedQueries_BreakTiesByHash(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x := publicEntry("x")
	base := addr("base")
	anchor := addr("anchor")

	var records, entries, links []ir.Op
	for seed := byte(1); seed <= 4; seed++ {
		a := testAuthor(t, seed)
		g, err := a.Genesis()
		require.NoError(t, err)
		c, err := a.Create(chain.AppEntry(0, 0, ir.Public), x)
		require.NoError(t, err)
		l, err := a.CreateLink(base, addr("target"), 0, 0, nil)
		require.NoError(t, err)

		records = append(records, opOfType(t, g, ir.OpStoreRecord))
		entries = append(entries, opOfType(t, c, ir.OpStoreEntry))
		links = append(links, opOfType(t, l, ir.OpRegisterCreateLink))
	}

	// Pending, inserted in reverse of the expected order.
	wantPending := sortedHashes(records)
	for i := len(records) - 1; i >= 0; i-- {
		insert(t, s, records[i])
	}
	pending, err := s.OpsInStages(ctx, ir.StagePending)
	require.NoError(t, err)
	assert.Equal(t, wantPending, recordHashes(pending))

	for _, op := range entries {
		_, err := s.InsertPendingOp(ctx, PendingOp{Op: op, RequireReceipt: true, ReceivedAt: 1})
		require.NoError(t, err)
		require.NoError(t, s.SetSysOutcome(ctx, op.Hash(),
			ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: ir.StatusValid}, []ir.Hash{anchor}))
		_, ok, err := s.IntegrateOp(ctx, op.Hash(), 100)
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, op := range links {
		integrate(t, s, op, ir.StatusValid)
	}
	wantEntries := sortedHashes(entries)

	byBasis, err := s.IntegratedByBasis(ctx, x.Hash(), []ir.OpType{ir.OpStoreEntry}, Window{})
	require.NoError(t, err)
	var got []ir.Hash
	for _, op := range byBasis {
		got = append(got, op.Hash)
	}
	assert.Equal(t, wantEntries, got, "integrated by basis")

	tasks, err := s.OpsRequiringReceipt(ctx)
	require.NoError(t, err)
	got = nil
	for _, task := range tasks {
		got = append(got, task.OpHash)
	}
	assert.Equal(t, wantEntries, got, "receipt tasks")

	rows, err := s.LinksOnBase(ctx, base)
	require.NoError(t, err)
	got = nil
	for _, row := range rows {
		got = append(got, row.CreateHash)
	}
	var wantLinks []ir.Hash
	for _, op := range links {
		wantLinks = append(wantLinks, op.Action.Hash())
	}
	slices.Sort(wantLinks)
	assert.Equal(t, wantLinks, got, "links on base")

	reset, err := s.ResetOps(ctx, ResetScope{Action: anchor})
	require.NoError(t, err)
	assert.Equal(t, wantEntries, reset, "reset")
}

// sortedHashes returns the op hashes in byte order. All ops share a type
// and timestamp, so this is their processing order.
func sortedHashes(ops []ir.Op) []ir.Hash {
	out := make([]ir.Hash, len(ops))
	for i, op := range ops {
		out[i] = op.Hash()
	}
	slices.Sort(out)
	return out
}

func recordHashes(recs []OpRecord) []ir.Hash {
	out := make([]ir.Hash, len(recs))
	for i, r := range recs {
		out[i] = r.Hash
	}
	return out
}
