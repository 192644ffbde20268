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

func TestIntegratedByBasis(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	_, err := a.Genesis()
	require.NoError(t, err)
	x := publicEntry("x")
	c, err := a.Create(chain.AppEntry(0, 0, ir.Public), x)
	require.NoError(t, err)
	d, err := a.Delete(c)
	require.NoError(t, err)

	integrate(t, s, opOfType(t, c, ir.OpStoreEntry), ir.StatusValid)
	integrate(t, s, opOfType(t, d, ir.OpRegisterDeletedEntryAction), ir.StatusValid)
	// Pending ops are not part of the integrated index.
	insert(t, s, opOfType(t, d, ir.OpRegisterDeletedBy))

	types := []ir.OpType{ir.OpStoreEntry, ir.OpRegisterDeletedEntryAction, ir.OpRegisterUpdatedContent}
	got, err := s.IntegratedByBasis(ctx, x.Hash(), types, Window{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ir.OpStoreEntry, got[0].Type)
	assert.Equal(t, c.Hash(), got[0].ActionHash)
	assert.Equal(t, x.Hash(), got[0].EntryHash)
	assert.Equal(t, ir.StatusValid, got[0].Validation)
	assert.Equal(t, ir.Timestamp(100), got[0].WhenIntegrated)
	assert.Equal(t, ir.OpRegisterDeletedEntryAction, got[1].Type)
	assert.Equal(t, d.Hash(), got[1].Action.Hash())

	got, err = s.IntegratedByBasis(ctx, x.Hash(), []ir.OpType{ir.OpStoreEntry}, Window{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Window excludes the create.
	got, err = s.IntegratedByBasis(ctx, x.Hash(), types, Window{Start: d.Action.Action.Timestamp})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.Hash(), got[0].ActionHash)

	got, err = s.IntegratedByBasis(ctx, x.Hash(), types, Window{End: d.Action.Action.Timestamp})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.Hash(), got[0].ActionHash)

	got, err = s.IntegratedByBasis(ctx, x.Hash(), nil, Window{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestActionsAtSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)
	g, err := a.Genesis()
	require.NoError(t, err)
	c1, err := a.Create(chain.AppEntry(0, 0, ir.Public), publicEntry("one"))
	require.NoError(t, err)

	// A second action at seq 1 on the same predecessor.
	fork := c1.Action.Action
	fork.Timestamp++
	c2, err := a.Sign(fork, nil)
	require.NoError(t, err)

	for _, c := range []chain.Commit{g, c1, c2} {
		insert(t, s, opOfType(t, c, ir.OpStoreRecord))
	}

	refs, err := s.ActionsAtSeq(ctx, a.Key(), 1)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, g.Hash(), r.PrevAction)
	}

	refs, err = s.ActionsAtSeq(ctx, a.Key(), 7)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestChainHead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := testAuthor(t, 1)

	_, found, err := s.ChainHead(ctx, a.Key())
	require.NoError(t, err)
	assert.False(t, found)

	g, err := a.Genesis()
	require.NoError(t, err)
	c, err := a.Create(chain.AppEntry(0, 0, ir.Public), publicEntry("x"))
	require.NoError(t, err)
	insert(t, s, opOfType(t, g, ir.OpRegisterAgentActivity))
	insert(t, s, opOfType(t, c, ir.OpRegisterAgentActivity))

	head, found, err := s.ChainHead(ctx, a.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, c.Hash(), head.Hash())
}

func TestAuthors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	authors, err := s.Authors(ctx)
	require.NoError(t, err)
	assert.Empty(t, authors)

	var want []ir.AgentKey
	for _, seed := range []byte{1, 2} {
		a := testAuthor(t, seed)
		g, err := a.Genesis()
		require.NoError(t, err)
		c, err := a.Create(chain.AppEntry(0, 0, ir.Public), publicEntry("x"))
		require.NoError(t, err)
		insert(t, s, opOfType(t, g, ir.OpStoreRecord))
		insert(t, s, opOfType(t, c, ir.OpStoreRecord))
		want = append(want, a.Key())
	}
	slices.Sort(want)

	authors, err = s.Authors(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, authors, "one row per author, in key order")
}
