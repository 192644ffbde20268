package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/chain"
	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// nodeEnv is a node directory with a config that keeps the database and
// key file inside it.
type nodeEnv struct {
	Dir    string
	Config string
	DB     string
	Key    string
}

func newNodeEnv(t *testing.T) nodeEnv {
	t.Helper()
	dir := t.TempDir()
	env := nodeEnv{
		Dir:    dir,
		Config: filepath.Join(dir, "aingle.cue"),
		DB:     filepath.Join(dir, "node.db"),
		Key:    filepath.Join(dir, "node.key"),
	}
	src := fmt.Sprintf("database: %q\nkey_file: %q\nlog_level: \"warn\"\n", env.DB, env.Key)
	require.NoError(t, os.WriteFile(env.Config, []byte(src), 0o600))
	return env
}

// run executes a subcommand against the node.
func (e nodeEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", e.Config}, args...)...)
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

// chainFixture is a two-action chain: genesis and one public create.
type chainFixture struct {
	Signer  keys.Signer
	DNA     ir.Hash
	Agent   ir.AgentKey
	Genesis chain.Commit
	Post    chain.Commit
	Ops     []ir.Op
}

func newChainFixture(t *testing.T) chainFixture {
	t.Helper()
	signer, err := keys.FromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	dna := ir.Entry{Kind: ir.EntryApp, Content: []byte("cli-dna")}.Hash()
	a := chain.NewAuthor(signer, dna)
	g, err := a.Genesis()
	require.NoError(t, err)
	post, err := a.Create(chain.AppEntry(0, 0, ir.Public),
		ir.Entry{Kind: ir.EntryApp, Content: []byte("hello")})
	require.NoError(t, err)

	return chainFixture{
		Signer:  signer,
		DNA:     dna,
		Agent:   signer.AgentKey(),
		Genesis: g,
		Post:    post,
		Ops:     append(g.Ops(), post.Ops()...),
	}
}

// writeOps writes ops as a JSON stream and returns the file path.
func writeOps(t *testing.T, ops []ir.Op) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, op := range ops {
		require.NoError(t, enc.Encode(op))
	}
	return path
}

// writeReceipts writes signed receipts as a JSON stream and returns the
// file path.
func writeReceipts(t *testing.T, rs []ir.SignedReceipt) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipts.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range rs {
		require.NoError(t, enc.Encode(r))
	}
	return path
}
