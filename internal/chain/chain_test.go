package chain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

func newAuthor(t *testing.T) *Author {
	t.Helper()
	s, err := keys.FromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return NewAuthor(s, "dna")
}

func TestAuthor_LinksChain(t *testing.T) {
	a := newAuthor(t)

	g, err := a.Genesis()
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.Action.Action.Seq)
	assert.True(t, g.Action.Action.PrevAction.IsZero())

	c, err := a.Create(AppEntry(0, 1, ir.Public), ir.Entry{Kind: ir.EntryApp, Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Action.Action.Seq)
	assert.Equal(t, g.Hash(), c.Action.Action.PrevAction)
	assert.Greater(t, c.Action.Action.Timestamp, g.Action.Action.Timestamp)
	assert.True(t, keys.VerifyAction(c.Action))

	head, ok := a.Head()
	require.True(t, ok)
	assert.Equal(t, c.Hash(), head.Hash())
}

func TestAuthor_GenesisTwice(t *testing.T) {
	a := newAuthor(t)
	_, err := a.Genesis()
	require.NoError(t, err)
	_, err = a.Genesis()
	assert.Error(t, err)
}

func TestAuthor_UpdateAndDelete(t *testing.T) {
	a := newAuthor(t)
	_, err := a.Genesis()
	require.NoError(t, err)

	x := ir.Entry{Kind: ir.EntryApp, Content: []byte("x")}
	c, err := a.Create(AppEntry(0, 1, ir.Public), x)
	require.NoError(t, err)

	u, err := a.Update(c, ir.Entry{Kind: ir.EntryApp, Content: []byte("y")})
	require.NoError(t, err)
	assert.Equal(t, c.Hash(), u.Action.Action.OriginalAction)
	assert.Equal(t, x.Hash(), u.Action.Action.OriginalEntry)
	assert.Equal(t, *c.Action.Action.EntryType, *u.Action.Action.EntryType)

	d, err := a.Delete(c)
	require.NoError(t, err)
	assert.Equal(t, c.Hash(), d.Action.Action.DeletesAction)
	assert.Equal(t, x.Hash(), d.Action.Action.DeletesEntry)
	assert.Len(t, d.Ops(), 4)

	_, err = a.Delete(d)
	assert.Error(t, err, "a delete has no entry to delete")
}

func TestAuthor_Links(t *testing.T) {
	a := newAuthor(t)
	_, err := a.Genesis()
	require.NoError(t, err)

	l, err := a.CreateLink("base", "target", 0, 2, []byte("tag"))
	require.NoError(t, err)

	dl, err := a.DeleteLink(l)
	require.NoError(t, err)
	assert.Equal(t, l.Hash(), dl.Action.Action.LinkAdd)
	assert.Equal(t, ir.Hash("base"), dl.Action.Action.BaseAddress)

	_, err = a.DeleteLink(dl)
	assert.Error(t, err)
}

func TestAuthor_SignDoesNotMoveHead(t *testing.T) {
	a := newAuthor(t)
	g, err := a.Genesis()
	require.NoError(t, err)

	_, err = a.Sign(ir.Action{Type: ir.ActionInitComplete, Author: a.Key(), Seq: 5, PrevAction: "bogus"}, nil)
	require.NoError(t, err)

	head, _ := a.Head()
	assert.Equal(t, g.Hash(), head.Hash())
}

func TestAuthor_SetTime(t *testing.T) {
	a := newAuthor(t)
	a.SetTime(42)
	g, err := a.Genesis()
	require.NoError(t, err)
	assert.Equal(t, ir.Timestamp(42), g.Action.Action.Timestamp)
}
