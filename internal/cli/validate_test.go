package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroEndSweep is valid but sweeps a time variable down to an excluded
// end value, which the checks flag.
const zeroEndSweep = `
name: "relax"
cells: 1
variables: [
	{name: "delay", type: "time"},
]
program: [
	{for: {var: "delay", start: 1.0e-6, end: 0, step: -100.0e-9, body: [
		{wait: {cell: 0, length: "var:delay"}},
	]}},
]
`

// backwardsLoop counts up from a start above its end, which can never
// finish.
const backwardsLoop = `
cells: 1
variables: [
	{name: "i", type: "int"},
]
program: [
	{for: {var: "i", start: 5, end: 0, step: 1, body: [
		{wait: {cell: 0, length: 100.0e-9}},
	]}},
]
`

func TestValidateCommand_Valid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ Job is valid")
	assert.Contains(t, out, "counter: 1 cell(s), 0 coupler(s), 1 command(s)")
	assert.NotContains(t, out, "Warnings:")
}

func TestValidateCommand_Warnings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "relax.cue", zeroEndSweep)

	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ Job is valid")
	assert.Contains(t, out, "Warnings:")
	assert.Contains(t, out, "QIC904")
	assert.Contains(t, out, "will not be included in the loop")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "backwards.cue", backwardsLoop)

	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	out := buf.String()
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "QIC106")
}

func TestValidateCommand_LoadErrorIsCommandError(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [QIC601]")
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateCommand_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counter.cue", counterJob)

	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "counter", resp.Data.Name)
	assert.Equal(t, 1, resp.Data.Cells)
	assert.Equal(t, 1, resp.Data.Commands)
}

func TestValidateCommand_InvalidJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "backwards.cue", backwardsLoop)

	buf := new(bytes.Buffer)
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QIC106", resp.Error.Code)
}
