package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundledScenarios = "../harness/testdata/scenarios"

// copyScenario copies a bundled scenario into dir.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(bundledScenarios, name+".yaml"))
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestScenario_BundledDirectoryPasses(t *testing.T) {
	out, _, err := execute(t, "scenario", bundledScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ lifecycle")
	assert.Contains(t, out, "✓ broken_chain")
	assert.Contains(t, out, "✓ missing_dependency")
	assert.Contains(t, out, "Scenario Summary: 3 passed, 0 failed, 3 total")
}

func TestScenario_Filter(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "scenario", bundledScenarios, "--filter", "broken_*")
	require.NoError(t, err)

	var report ScenarioReport
	decodeData(t, out, &report)
	assert.Equal(t, 1, report.Total)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "broken_chain", report.Scenarios[0].Name)
	assert.True(t, report.Scenarios[0].Pass)
}

func TestScenario_UpdateThenCompareGolden(t *testing.T) {
	dir := t.TempDir()
	file := copyScenario(t, dir, "lifecycle")

	out, _, err := execute(t, "scenario", file, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "lifecycle.golden"))
	require.NoError(t, err)
	bundled, err := os.ReadFile("../harness/testdata/golden/lifecycle.golden")
	require.NoError(t, err)
	assert.JSONEq(t, string(bundled), string(written))

	_, _, err = execute(t, "scenario", dir)
	require.NoError(t, err, "a fresh golden matches the run that wrote it")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "lifecycle.golden"), []byte(`{"scenario_name":"lifecycle","trace":[]}`), 0o644))
	out, _, err = execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "golden file mismatch")
}

func TestScenario_FailingExpectations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: genesis expected to be rejected
agents: [alice]
steps:
  - commit: {agent: alice, action: genesis, label: g}
  - deliver: ["*"]
expect:
  - {label: g, op: StoreRecord, stage: integrated, validation: rejected}
`), 0o644))

	out, _, err := execute(t, "--format", "json", "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Contains(t, out, "Expectation failed")
}

func TestScenario_LoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [unclosed"), 0o644))

	out, _, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yml")
	assert.Contains(t, out, "load error")
}

func TestScenario_PathErrors(t *testing.T) {
	_, _, err := execute(t, "scenario", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "scenario", bundledScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestScenario_EmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "scenario", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "fork.golden"), goldenFilePath(filepath.Join("s", "fork.yaml")))
}
