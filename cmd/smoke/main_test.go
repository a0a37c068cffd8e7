package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/smoke/pkg/trace"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"# comment",
		"",
		"SMOKE_TEST_A=plain",
		`SMOKE_TEST_B="quoted value"`,
		"export SMOKE_TEST_C='single'",
		"SMOKE_TEST_KEEP=from-file",
		"not a pair",
	}, "\n")), 0o644))

	t.Setenv("SMOKE_TEST_KEEP", "from-env")
	for _, k := range []string{"SMOKE_TEST_A", "SMOKE_TEST_B", "SMOKE_TEST_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	loadDotEnv(path)
	assert.Equal(t, "plain", os.Getenv("SMOKE_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("SMOKE_TEST_B"))
	assert.Equal(t, "single", os.Getenv("SMOKE_TEST_C"))
	assert.Equal(t, "from-env", os.Getenv("SMOKE_TEST_KEEP"))
}

func TestLoadDotEnvMissing(t *testing.T) {
	assert.NotPanics(t, func() { loadDotEnv(filepath.Join(t.TempDir(), "none")) })
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "smoke dev")
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "object", doc["type"])
}

func TestReplayCommand(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "trace.jsonl")
	out, err := execute(t, "replay", "../../testdata/scenarios/cooperative.yaml",
		"--log-level", "error", "--format", "json", "--trace", tracePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"opportunityId": "opp-123"`)
	assert.Contains(t, out, "outcome matches expectation")

	f, err := os.Open(tracePath)
	require.NoError(t, err)
	defer f.Close()
	steps, err := trace.ReadSteps(f)
	require.NoError(t, err)
	assert.Len(t, steps, 9)
}

func TestReplayCommandExpectedFailure(t *testing.T) {
	out, err := execute(t, "replay", "../../testdata/scenarios/wrong-page.yaml",
		"--log-level", "error", "--format", "text", "--trace", "")
	require.NoError(t, err, "a failing run that matches its expectation passes")
	assert.Contains(t, out, "navigation_mismatch")
}

func TestReplayCommandMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: mismatch
input: {baseUrl: https://example.test, email: a@b.com, password: x}
missing: ['#email']
expect:
  ok: true
`), 0o644))
	out, err := execute(t, "replay", path, "--log-level", "error", "--format", "json", "--trace", "")
	require.Error(t, err)
	assert.Contains(t, out, "expectation(s) not met")
}

func TestUnknownFormat(t *testing.T) {
	_, err := execute(t, "replay", "../../testdata/scenarios/cooperative.yaml", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown --format")
	replayFormat = "text"
}

func TestArtifactsCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMOKE_ARTIFACTS_DIR", dir)

	_, err := execute(t, "replay", "../../testdata/scenarios/wrong-page.yaml",
		"--log-level", "error", "--format", "json", "--trace", "")
	require.NoError(t, err)

	runs, err := filepath.Glob(filepath.Join(dir, "runs", "*"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := filepath.Base(runs[0])

	out, err := execute(t, "artifacts", runID, "--format", "json")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Did not reach analysis page")
	assert.Contains(t, out, "screenshot")
	assert.Contains(t, out, "trace.jsonl")

	require.NoError(t, os.WriteFile(filepath.Join(runs[0], "screenshot.png"), []byte("edited"), 0o644))
	out, err = execute(t, "artifacts", runID, "--format", "json")
	require.ErrorIs(t, err, errArtifactsChanged)
	assert.Contains(t, out, glyphFail+" screenshot")
}

func TestArtifactsCommandNeedsDir(t *testing.T) {
	t.Setenv("SMOKE_ARTIFACTS_DIR", "")
	_, err := execute(t, "artifacts", "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifacts.dir")
}
