package engine_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/engine"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
	"github.com/Daironode/aingle-sub000/internal/store"
	"github.com/Daironode/aingle-sub000/internal/telemetry"
	"github.com/Daironode/aingle-sub000/internal/testutil"
)

// validatorSeed is the seed of the local node's key in every test pipeline.
const validatorSeed = 0xEE

type testPipeline struct {
	*engine.Pipeline
	store  *store.Store
	net    *testutil.FakeNetwork
	app    *testutil.ScriptedApp
	reader *sdkmetric.ManualReader
	signer keys.Signer
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSigner(t *testing.T, seed byte) keys.Signer {
	t.Helper()
	signer, err := keys.FromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return signer
}

func newAuthor(t *testing.T, seed byte) *chain.Author {
	t.Helper()
	return chain.NewAuthor(newSigner(t, seed), testDNA)
}

// newTestPipeline builds a pipeline over a temp store, a fake network and a
// scripted app validator. modify may adjust options before construction.
func newTestPipeline(t *testing.T, modify ...func(*engine.Options)) *testPipeline {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := telemetry.New(provider.Meter("test"))
	require.NoError(t, err)

	opts := engine.Options{
		FetchMissing: true,
		Metrics:      metrics,
		Clock:        testutil.NewDeterministicClock(),
		RunIDs:       testutil.NewRunIDs("test"),
	}
	for _, m := range modify {
		m(&opts)
	}

	tp := &testPipeline{
		store:  setupTestStore(t),
		net:    testutil.NewFakeNetwork(),
		app:    testutil.NewScriptedApp(),
		reader: reader,
		signer: newSigner(t, validatorSeed),
	}
	tp.Pipeline = engine.New(engine.Config{
		Store:   tp.store,
		Network: tp.net,
		App:     tp.app,
		Signer:  tp.signer,
		Options: opts,
	})
	return tp
}

func incoming(origin engine.Origin, commits ...chain.Commit) []engine.IncomingOp {
	var out []engine.IncomingOp
	for _, c := range commits {
		for _, op := range c.Ops() {
			out = append(out, engine.IncomingOp{Hash: op.Hash(), Op: op, From: op.Action.Action.Author, Origin: origin})
		}
	}
	return out
}

// receive ingests every op of the commits as if pushed by their author.
func (tp *testPipeline) receive(t *testing.T, commits ...chain.Commit) int {
	t.Helper()
	n, err := tp.Ingestor().Ingest(context.Background(), incoming(engine.OriginNetwork, commits...))
	require.NoError(t, err)
	return n
}

func (tp *testPipeline) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, tp.Drain(context.Background()))
}

func (tp *testPipeline) record(t *testing.T, op ir.Op) store.OpRecord {
	t.Helper()
	r, found, err := tp.store.LookupOp(context.Background(), op.Hash())
	require.NoError(t, err)
	require.True(t, found, "op %s (%s) not stored", op.Hash().Short(), op.Type)
	return r
}

func (tp *testPipeline) metrics(t *testing.T) map[string]int64 {
	t.Helper()
	m, err := telemetry.Snapshot(context.Background(), tp.reader)
	require.NoError(t, err)
	return m
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

func mustCommit(t *testing.T) func(chain.Commit, error) chain.Commit {
	return func(c chain.Commit, err error) chain.Commit {
		t.Helper()
		require.NoError(t, err)
		return c
	}
}

// addr gives a stable well-formed hash for a name, for links and DNA.
func addr(name string) ir.Hash {
	return ir.Entry{Kind: ir.EntryApp, Content: []byte(name)}.Hash()
}

var testDNA = addr("dna")

func publicEntry(s string) ir.Entry {
	return ir.Entry{Kind: ir.EntryApp, Content: []byte(s)}
}

var publicType = chain.AppEntry(0, 0, ir.Public)

var (
	integratedValid    = ir.OpStatus{Stage: ir.StageIntegrated, Validation: ir.StatusValid}.String()
	integratedRejected = ir.OpStatus{Stage: ir.StageIntegrated, Validation: ir.StatusRejected}.String()
)
