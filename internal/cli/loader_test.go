package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func requireLoadError(t *testing.T, err error) *LoadError {
	t.Helper()
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, qicode.CodeLoaderFailed, loadErr.Code)
	return loadErr
}

func TestLoadJob_FullDocument(t *testing.T) {
	doc := `
name: "full"
cells: 2
couplers: 1
options: {
	skip_nco_sync: true
}
variables: [
	{name: "i", type: "int"},
	{name: "n", type: "int"},
	{name: "s", type: "state"},
]
cell_map: [0, 1]
program: [
	{play: {cell: 0, shape: "gauss", length: 48.0e-9, amplitude: 0.5, frequency: 80.0e6, phase: 0.0}},
	{rotate_frame: {cell: 0, radians: 1.570796}},
	{play_flux: {coupler: 0, length: 40.0e-9}},
	{digital_trigger: {cell: 1, length: 4.0e-9, outputs: [1, 3]}},
	{assign: {var: "n", value: 3}},
	{assign: {var: "n", add: ["var:n", 1]}},
	{for: {var: "i", start: 0, end: 4, step: 1, body: [
		{wait: {cell: 0, length: 100.0e-9}},
	]}},
	{play_readout: {cell: 1, length: 400.0e-9, frequency: 60.0e6}},
	{recording: {cell: 1, length: 400.0e-9, save_to: "iq", state_to: "s"}},
	{if: {var: "s", op: "==", value: 1, then: [
		{wait: {cell: 1, length: 8.0e-9}},
	], else: [
		{wait: {cell: 1, length: 16.0e-9}},
	]}},
	{if: {var: "n", op: ">", value: 2, then: [
		{wait: {cell: 1, length: 8.0e-9}},
	]}},
	{parallel: [
		[{play: {cell: 0, length: 100.0e-9}}],
		[
			{wait: {cell: 0, length: 40.0e-9}},
			{play_readout: {cell: 0, length: 100.0e-9, frequency: 60.0e6}},
		],
	]},
	{sync: {}},
	{sync: {cells: [0, 1]}},
]
`
	path := writeFile(t, t.TempDir(), "full.cue", doc)

	loaded, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, "full", loaded.Name)
	assert.Equal(t, []int{0, 1}, loaded.CellMap)
	assert.Len(t, loaded.Job.Cells(), 2)
	assert.Len(t, loaded.Job.Couplers(), 1)

	cj, err := compiler.Build(loaded.Job)
	require.NoError(t, err)
	assert.Len(t, cj.Programs, 2)
}

func TestLoadJob_NameDefaultsToFileName(t *testing.T) {
	doc := `
cells: 1
program: [
	{wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "rabi.cue", doc)

	loaded, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, "rabi", loaded.Name)
}

func TestLoadJob_MissingFile(t *testing.T) {
	_, err := LoadJob(filepath.Join(t.TempDir(), "nope.cue"))
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "not found")
}

func TestLoadJob_RejectsNonCUE(t *testing.T) {
	path := writeFile(t, t.TempDir(), "job.yaml", "cells: 1\n")

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "not a .cue file")
}

func TestLoadJob_SyntaxError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.cue", "cells: [}\n")

	_, err := LoadJob(path)
	requireLoadError(t, err)
}

func TestLoadJob_CellsRequired(t *testing.T) {
	doc := `
program: [
	{wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "cells is required")
}

func TestLoadJob_CouplerBound(t *testing.T) {
	doc := `
cells: 1
couplers: 5
program: [
	{wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "twice the cell count")
}

func TestLoadJob_UnknownCommand(t *testing.T) {
	doc := `
cells: 1
program: [
	{warp: {cell: 0}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, `unknown command "warp"`)
	assert.True(t, loadErr.Pos.IsValid(), "command errors carry the source position")
}

func TestLoadJob_TwoCommandsInOneEntry(t *testing.T) {
	doc := `
cells: 1
program: [
	{play: {cell: 0, length: 48.0e-9}, wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "exactly one command, has 2")
}

func TestLoadJob_UndeclaredVariable(t *testing.T) {
	doc := `
cells: 1
program: [
	{wait: {cell: 0, length: "var:ghost"}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, `variable "ghost" is not declared`)
}

func TestLoadJob_UnknownVariableType(t *testing.T) {
	doc := `
cells: 1
variables: [
	{name: "z", type: "complex"},
]
program: [
	{wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, `unknown variable type "complex"`)
}

func TestLoadJob_DuplicateVariable(t *testing.T) {
	doc := `
cells: 1
variables: [
	{name: "x"},
	{name: "x", type: "int"},
]
program: [
	{wait: {cell: 0, length: 100.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, `variable "x" is declared twice`)
}

func TestLoadJob_CellOutOfRange(t *testing.T) {
	doc := `
cells: 1
program: [
	{play: {cell: 5, length: 48.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "cell 5 is not in the job, have 1")
}

func TestLoadJob_UnknownPulseShape(t *testing.T) {
	doc := `
cells: 1
program: [
	{play: {cell: 0, shape: "triangle", length: 48.0e-9}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, `unknown pulse shape "triangle"`)
}

func TestLoadJob_PulseLengthXorContinuous(t *testing.T) {
	doc := `
cells: 1
program: [
	{play: {cell: 0, length: 48.0e-9, continuous: true}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "either a length or continuous, not both")
}

func TestLoadJob_PropNeedsCell(t *testing.T) {
	doc := `
cells: 1
variables: [
	{name: "i", type: "int"},
]
program: [
	{for: {var: "i", start: 0, end: "prop:count", step: 1, body: [
		{wait: {cell: 0, length: 100.0e-9}},
	]}},
]
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "prop:count needs a cell-scoped command")
}

func TestLoadSampleFile_YAML(t *testing.T) {
	doc := `
cells:
  - pi_len: 48.0e-9
    t_rest: 100.0e-6
`
	path := writeFile(t, t.TempDir(), "sample.yaml", doc)

	sample, err := LoadSampleFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, sample.Len())
	v, ok := sample.Cell(0).Get("pi_len")
	require.True(t, ok)
	assert.Equal(t, 48.0e-9, v)
}

func TestLoadSampleFile_CUE(t *testing.T) {
	doc := `
cells: [
	{pi_len: 48.0e-9, t_rest: 100.0e-6},
	{pi_len: 52.0e-9},
]
cell_map: [1, 0]
`
	path := writeFile(t, t.TempDir(), "sample.cue", doc)

	sample, err := LoadSampleFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, sample.Len())
	v, ok := sample.Cell(1).Get("pi_len")
	require.True(t, ok)
	assert.Equal(t, 52.0e-9, v)
	assert.Equal(t, []int{1, 0}, sample.CellMap())
}

func TestLoadSampleFile_BadCellMap(t *testing.T) {
	doc := `
cells: [
	{pi_len: 48.0e-9},
]
cell_map: [0, 1]
`
	path := writeFile(t, t.TempDir(), "sample.cue", doc)

	_, err := LoadSampleFile(path)
	require.Error(t, err)
	assert.True(t, qicode.IsCode(err, qicode.CodeCellMapInvalid))
}

func TestLoadSampleFile_NeedsCells(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sample.cue", "cell_map: [0]\n")

	_, err := LoadSampleFile(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "needs a cells list")
}

func TestLoadJob_EmptyProgram(t *testing.T) {
	doc := `
cells: 1
program: []
`
	path := writeFile(t, t.TempDir(), "job.cue", doc)

	_, err := LoadJob(path)
	loadErr := requireLoadError(t, err)
	assert.Contains(t, loadErr.Message, "at least one command")
}
