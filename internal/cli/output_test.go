package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_SuccessEnvelope(t *testing.T) {
	buf := new(bytes.Buffer)
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(map[string]int{"cells": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_ErrorEnvelope(t *testing.T) {
	buf := new(bytes.Buffer)
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Error("QIC601", "job.cue not found", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QIC601", resp.Error.Code)
	assert.Equal(t, "job.cue not found", resp.Error.Message)
}

func TestOutputFormatter_ErrorText(t *testing.T) {
	buf := new(bytes.Buffer)
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Error("QIC501", "--db is required", nil))
	assert.Equal(t, "Error [QIC501]: --db is required\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)

	quiet := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("loaded %d cells", 2)
	assert.Empty(t, errOut.String())

	verbose := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}
	verbose.VerboseLog("loaded %d cells", 2)
	assert.Equal(t, "loaded 2 cells\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestOutputFormatter_VerboseLogFallsBackToWriter(t *testing.T) {
	out := new(bytes.Buffer)
	f := &OutputFormatter{Format: "text", Writer: out, Verbose: true}
	f.VerboseLog("building")
	assert.Equal(t, "building\n", out.String())
}

func TestExitError(t *testing.T) {
	plain := NewExitError(ExitCommandError, "scenarios directory not found")
	assert.Equal(t, "scenarios directory not found", plain.Error())
	assert.Nil(t, plain.Unwrap())

	cause := errors.New("disk full")
	wrapped := WrapExitError(ExitCommandError, "writing listing", cause)
	assert.Equal(t, "writing listing: disk full", wrapped.Error())
	assert.Equal(t, cause, wrapped.Unwrap())
}
