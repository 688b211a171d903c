package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofpipe/internal/harness"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	cmd := NewTestCommand(&RootOptions{Format: format})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func TestTestCommand_AllPass(t *testing.T) {
	out, err := executeTest(t, "text", harnessScenarios)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ mixed_dispositions\n")
	assert.Contains(t, out, "✓ correction_and_obligations\n")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := executeTest(t, "json", harnessScenarios, "--filter", "soundness_*")
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "soundness_rejected_body", resp.Data.Scenarios[0].Name)
}

const failingScenario = `
name: failing
description: "Expects the wrong disposition"
domain:
  source: "module Bank {}"
requirements:
  - { id: R1, text: "x" }
model:
  - { purpose: formalize, error: "timeout" }
assertions:
  - { type: disposition, requirement: R1, disposition: direct }
`

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing\n")
	assert.Contains(t, out, "Assertion failed: disposition")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	out, err = executeTest(t, "json", dir)
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(transportScenarioYAML), 0644))

	out, err := executeTest(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ transport (golden updated)")
	assert.FileExists(t, harness.GoldenPath(path))

	out, err = executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ transport\n")
}

const transportScenarioYAML = `
name: transport
description: "Formalization transport failure"
domain:
  source: "module Bank {}"
requirements:
  - { id: R1, text: "x" }
model:
  - { purpose: formalize, error: "timeout" }
assertions:
  - { type: obligation, requirement: R1, stage: formalize, error_contains: "timeout" }
`

func TestTestCommand_Empty(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := executeTest(t, "text", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}
