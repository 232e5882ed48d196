package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/puk/internal/ledger"
)

const testPlaybook = `---
id: release-notes
version: 1.0.0
description: Draft release notes.
parameters:
  target:
    type: path
    required: true
allowed_tools:
  - fs.read
  - fs.write
write_scope:
  - out/**
run_mode: plan
---
Write the notes into {{target}}.
`

func writeTestPlaybook(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "release-notes.md")
	require.NoError(t, os.WriteFile(path, []byte(testPlaybook), 0o644))
	return path
}

// execute runs the CLI against a fresh workspace with the offline mock
// provider.
func execute(t *testing.T, workspace string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PUK_PROVIDER", "mock")

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--workspace", workspace}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_PlanMode(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	out, err := execute(t, ws, "run", pb, "--param", "target=out/notes.md")
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")
	assert.Contains(t, out, "plan:  0 step(s)")

	entries, err := os.ReadDir(ledger.RunsRoot(ws))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-release-notes"))
}

func TestRun_ApplyMode(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	out, err := execute(t, ws, "run", pb, "--param", "target=out/notes.md", "--mode", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")
	assert.NotContains(t, out, "plan:")

	entries, err := os.ReadDir(ledger.RunsRoot(ws))
	require.NoError(t, err)
	report := filepath.Join(ledger.RunsRoot(ws), entries[0].Name(), "artifacts", "report.json")
	_, err = os.Stat(report)
	require.NoError(t, err)
}

func TestRun_JSONOutput(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	out, err := execute(t, ws, "--format", "json", "run", pb, "--param", "target=out/notes.md")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "succeeded", data["state"])
	assert.NotEmpty(t, data["run_id"])
}

func TestRun_MissingParameterFailsValidation(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	_, err := execute(t, ws, "run", pb)
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
	// Fail-fast: no run directory was created.
	_, statErr := os.Stat(ledger.RunsRoot(ws))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_UnknownParameterFailsValidation(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	_, err := execute(t, ws, "run", pb, "--param", "target=out/x.txt", "--param", "tragte=y")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

func TestRun_InvalidModeFailsValidation(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	_, err := execute(t, ws, "run", pb, "--param", "target=out/x.txt", "--mode", "dry-run")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

func TestRun_MalformedPlaybookFailsValidation(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "broken.md")
	require.NoError(t, os.WriteFile(path, []byte("no front matter\n"), 0o644))

	_, err := execute(t, ws, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

func TestRun_AppendToMissingRunFailsConcurrency(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	_, err := execute(t, ws, "run", pb, "--param", "target=out/x.txt", "--append-to-run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitConcurrency, GetExitCode(err))
}

func TestAsk(t *testing.T) {
	ws := t.TempDir()

	out, err := execute(t, ws, "ask", "what is here?")
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")

	entries, err := os.ReadDir(ledger.RunsRoot(ws))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	manifest, err := ledger.ReadManifest(filepath.Join(ledger.RunsRoot(ws), entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "oneshot", manifest.Mode)
}

func TestValidate(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)

	out, err := execute(t, ws, "validate", pb)
	require.NoError(t, err)
	assert.Contains(t, out, "release-notes v1.0.0: ok")

	broken := filepath.Join(ws, "broken.md")
	require.NoError(t, os.WriteFile(broken, []byte("---\nid: x\n---\nbody\n"), 0o644))
	_, err = execute(t, ws, "validate", broken)
	require.Error(t, err)
	assert.Equal(t, ExitValidation, GetExitCode(err))
}

func TestRunsListShowTail(t *testing.T) {
	ws := t.TempDir()
	pb := writeTestPlaybook(t, ws)
	_, err := execute(t, ws, "run", pb, "--param", "target=out/notes.md")
	require.NoError(t, err)

	out, err := execute(t, ws, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "closed")
	assert.Contains(t, out, "release-notes")

	entries, err := os.ReadDir(ledger.RunsRoot(ws))
	require.NoError(t, err)
	out, err = execute(t, ws, "runs", "show", entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, out, "status:  closed")
	assert.Contains(t, out, "session.start")

	out, err = execute(t, ws, "runs", "tail", entries[0].Name(), "-n", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2)

	_, err = execute(t, ws, "runs", "show", "missing-run")
	require.Error(t, err)
	assert.Equal(t, ExitConcurrency, GetExitCode(err))
}

func TestRunsList_EmptyWorkspace(t *testing.T) {
	out, err := execute(t, t.TempDir(), "runs", "list")
	require.NoError(t, err)
	assert.Equal(t, "no runs\n", out)
}
