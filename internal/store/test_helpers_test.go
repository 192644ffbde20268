package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAuthor(t *testing.T, seed byte) *chain.Author {
	t.Helper()
	signer, err := keys.FromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return chain.NewAuthor(signer, "dna")
}

func publicEntry(s string) ir.Entry {
	return ir.Entry{Kind: ir.EntryApp, Content: []byte(s)}
}

func opOfType(t *testing.T, c chain.Commit, typ ir.OpType) ir.Op {
	t.Helper()
	for _, op := range c.Ops() {
		if op.Type == typ {
			return op
		}
	}
	t.Fatalf("commit has no %s op", typ)
	return ir.Op{}
}

func insert(t *testing.T, s *Store, op ir.Op) {
	t.Helper()
	_, err := s.InsertPendingOp(context.Background(), PendingOp{Op: op, ReceivedAt: 1})
	require.NoError(t, err)
}

// integrate pushes op straight to the integrated index with the given verdict.
func integrate(t *testing.T, s *Store, op ir.Op, vs ir.ValidationStatus, deps ...ir.Hash) {
	t.Helper()
	ctx := context.Background()
	insert(t, s, op)
	require.NoError(t, s.SetSysOutcome(ctx, op.Hash(),
		ir.OpStatus{Stage: ir.StageAwaitingIntegration, Validation: vs}, deps))
	_, ok, err := s.IntegrateOp(ctx, op.Hash(), 100)
	require.NoError(t, err)
	require.True(t, ok)
}

// addr gives a stable well-formed hash for a name.
func addr(name string) ir.Hash {
	return ir.Entry{Kind: ir.EntryApp, Content: []byte(name)}.Hash()
}
