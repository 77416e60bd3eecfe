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

	"github.com/quantuminterface/qicode/internal/store"
)

// counterJob sweeps a loop counter over ten wait commands. It compiles
// without warnings into a seven instruction program.
const counterJob = `
name: "counter"
cells: 1
options: {
	skip_nco_sync: true
}
variables: [
	{name: "i", type: "int"},
]
program: [
	{for: {var: "i", start: 0, end: 10, step: 1, body: [
		{wait: {cell: 0, length: 100.0e-9}},
	]}},
]
`

// restJob waits for a sample property, so it only compiles with a sample.
const restJob = `
cells: 1
program: [
	{wait: {cell: 0, length: "prop:t_rest"}},
]
`

const restSample = `
cells:
  - t_rest: 1.0e-6
`

func TestCompileCommand_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ Compiled 1 cell program(s)")
	assert.Contains(t, out, "cell 0: 7 instruction(s)")
	assert.Contains(t, out, "results: none")
	assert.NotContains(t, out, "Warnings:")
}

func TestCompileCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   CompileReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.BuildID)
	assert.Equal(t, "counter", resp.Data.Name)
	require.Len(t, resp.Data.Programs, 1)
	assert.Equal(t, 7, resp.Data.Programs[0].Instructions)
}

func TestCompileCommand_MissingFile(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Compilation failed")
	assert.Contains(t, buf.String(), "QIC601")
	assert.Contains(t, buf.String(), "not found")
}

func TestCompileCommand_UnresolvedProperty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rest.cue", restJob)

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Compilation failed")
	assert.Contains(t, buf.String(), "QIC303")
}

func TestCompileCommand_SampleResolvesProperties(t *testing.T) {
	dir := t.TempDir()
	jobPath := writeFile(t, dir, "rest.cue", restJob)
	samplePath := writeFile(t, dir, "sample.yaml", restSample)

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{jobPath, "--sample", samplePath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ Compiled 1 cell program(s)")
}

func TestCompileCommand_SaveToArchive(t *testing.T) {
	dir := t.TempDir()
	jobPath := writeFile(t, dir, "counter.cue", counterJob)
	dbPath := filepath.Join(dir, "builds.db")

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{jobPath, "--save", "--db", dbPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Archived build")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	builds, err := st.ListBuilds(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, "counter", builds[0].Name)
}

func TestCompileCommand_SaveNeedsDatabase(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--save"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "--save needs --db")
}

func TestCompileCommand_WritesListing(t *testing.T) {
	dir := t.TempDir()
	jobPath := writeFile(t, dir, "counter.cue", counterJob)
	listingPath := filepath.Join(dir, "counter.s")

	buf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{jobPath, "-o", listingPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Wrote listing to "+listingPath)

	listing, err := os.ReadFile(listingPath)
	require.NoError(t, err)
	assert.Contains(t, string(listing), "cell 0:")
	assert.Contains(t, string(listing), "end")
}

func TestCompileCommand_VerboseLogsToStderr(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	cmd := NewCompileCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), `Loaded job "counter"`)
	assert.Contains(t, errBuf.String(), "Compiled 1 cell program(s)")
}
