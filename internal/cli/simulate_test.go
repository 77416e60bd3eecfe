package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readoutSweep records the same acquisition on every pass of a ten step
// sweep.
const readoutSweep = `
name: "readout-sweep"
cells: 1
options: {
	skip_nco_sync: true
}
variables: [
	{name: "i", type: "int"},
]
program: [
	{for: {var: "i", start: 0, end: 10, step: 1, body: [
		{play_readout: {cell: 0, length: 400.0e-9, frequency: 60.0e6}},
		{recording: {cell: 0, length: 400.0e-9, save_to: "iq"}},
	]}},
]
`

// singleShot plays one pulse and is done, no sweep at all.
const singleShot = `
name: "single-shot"
cells: 1
options: {
	skip_nco_sync: true
}
program: [
	{play: {cell: 0, length: 100.0e-9, frequency: 80.0e6}},
]
`

func TestSimulateCommand_Sweep(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sweep.cue", readoutSweep)

	buf := new(bytes.Buffer)
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ Simulated 10 sweep iteration(s)")
	assert.Contains(t, out, "cell 0: 10×iq")
}

func TestSimulateCommand_NoLoops(t *testing.T) {
	path := writeFile(t, t.TempDir(), "shot.cue", singleShot)

	buf := new(bytes.Buffer)
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ Simulated 1 sweep iteration(s)")
	assert.Contains(t, out, "cell 0: none")
}

func TestSimulateCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sweep.cue", readoutSweep)

	buf := new(bytes.Buffer)
	cmd := NewSimulateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   SimulationReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "readout-sweep", resp.Data.Name)
	assert.Equal(t, int64(10), resp.Data.Iterations)
	require.Len(t, resp.Data.Programs, 1)
	assert.Equal(t, "10×iq", resp.Data.Programs[0].Results)
}

func TestSimulateCommand_MissingFile(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Compilation failed")
}
