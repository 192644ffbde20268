package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daironode/aingle-sub000/internal/ir"
	"github.com/Daironode/aingle-sub000/internal/keys"
)

func TestKeygen_WritesConfiguredKeyFile(t *testing.T) {
	env := newNodeEnv(t)

	out, _, err := env.run(t, "--format", "json", "keygen")
	require.NoError(t, err)

	var res KeygenResult
	decodeData(t, out, &res)
	assert.Equal(t, env.Key, res.Path)

	signer, err := keys.LoadOrGenerate(env.Key)
	require.NoError(t, err)
	assert.Equal(t, res.AgentKey, string(signer.AgentKey()))
	assert.True(t, ir.Hash(res.AgentKey).Valid())
}

func TestKeygen_OutFlag(t *testing.T) {
	env := newNodeEnv(t)
	path := filepath.Join(t.TempDir(), "other.key")

	out, _, err := env.run(t, "keygen", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.Contains(t, out, "Agent key: ")

	_, err = os.Stat(env.Key)
	assert.True(t, os.IsNotExist(err))
}

func TestKeygen_RefusesToOverwrite(t *testing.T) {
	env := newNodeEnv(t)
	_, _, err := env.run(t, "keygen")
	require.NoError(t, err)
	before, err := os.ReadFile(env.Key)
	require.NoError(t, err)

	_, _, err = env.run(t, "keygen")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already exists")

	after, err := os.ReadFile(env.Key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
