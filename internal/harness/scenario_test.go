package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_FullDocument(t *testing.T) {
	doc := `
name: full
description: exercises every step kind
cells: 2
couplers: 1
cell_map: [0, 1]
sample:
  cells:
    - pi_len: 1.0e-7
    - {}
  cell_map: [1, 0]
options:
  skip_nco_sync: true
  nco_sync_delay: 1.0e-6
variables:
  - name: i
    type: int
  - name: q
    type: state
script:
  - play: {cell: 0, length: "prop:pi_len", amplitude: 0.5}
  - play_flux: {coupler: 0, length: 4.0e-8}
  - rotate_frame: {cell: 0, radians: 1.5707963}
  - digital_trigger: {cell: 1, length: 4.0e-8, outputs: [1, 3]}
  - assign: {var: i, value: 4}
  - if:
      var: i
      op: ">="
      value: 2
      then:
        - wait: {cell: 0, length: 1.0e-7}
      else:
        - wait: {cell: 0, length: 2.0e-7}
  - for:
      var: i
      start: 0
      end: 4
      step: 2
      body:
        - recording: {cell: 1, length: 4.0e-7, save_to: iq}
  - parallel:
      - - play: {cell: 0, length: 1.0e-7}
      - - wait: {cell: 0, length: 4.0e-8}
  - sync:
      cells: [0, 1]
expect:
  diagnostics: [QIC903]
  result_order:
    1: [iq, iq]
  listing:
    0: ["0: end"]
`
	scenario, err := ParseScenario([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "full", scenario.Name)
	assert.Equal(t, 2, scenario.Cells)
	assert.Equal(t, 1, scenario.Couplers)
	assert.Equal(t, []int{0, 1}, scenario.CellMap)
	require.NotNil(t, scenario.Sample)
	assert.Equal(t, 1.0e-7, scenario.Sample.Cells[0]["pi_len"])
	assert.Equal(t, []int{1, 0}, scenario.Sample.CellMap)
	assert.True(t, scenario.Options.SkipNCOSync)
	require.NotNil(t, scenario.Options.NCOSyncDelay)
	assert.Equal(t, 1.0e-6, *scenario.Options.NCOSyncDelay)

	require.Len(t, scenario.Script, 9)
	play := scenario.Script[0].Play
	require.NotNil(t, play)
	assert.Equal(t, PropRef("pi_len"), play.Length)
	require.NotNil(t, play.Amplitude)
	assert.Equal(t, FloatValue(0.5), *play.Amplitude)

	cond := scenario.Script[5].If
	require.NotNil(t, cond)
	assert.Equal(t, ">=", cond.Op)
	assert.Equal(t, IntValue(2), cond.Value)
	require.Len(t, cond.Then, 1)
	require.Len(t, cond.Else, 1)

	sweep := scenario.Script[6].For
	require.NotNil(t, sweep)
	assert.Equal(t, IntValue(0), sweep.Start)
	assert.Equal(t, IntValue(4), sweep.End)
	assert.Equal(t, IntValue(2), sweep.Step)
	require.Len(t, sweep.Body, 1)
	rec := sweep.Body[0].Recording
	require.NotNil(t, rec)
	assert.Equal(t, "iq", rec.SaveTo)

	require.Len(t, scenario.Script[7].Parallel, 2)
	require.NotNil(t, scenario.Script[8].Sync)
	assert.Equal(t, []int{0, 1}, scenario.Script[8].Sync.Cells)

	assert.Equal(t, []string{"QIC903"}, scenario.Expect.Diagnostics)
	assert.Equal(t, []string{"iq", "iq"}, scenario.Expect.ResultOrder[1])
	assert.Equal(t, []string{"0: end"}, scenario.Expect.Listing[0])
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	doc := `
name: typo
description: catches misspelled keys
cells: 1
scriptt:
  - wait: {cell: 0, length: 1.0e-7}
`
	_, err := ParseScenario([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scriptt")
}

func TestParseScenario_Validation(t *testing.T) {
	valid := `
name: ok
description: compiles
cells: 1
script:
  - wait: {cell: 0, length: 1.0e-7}
`
	_, err := ParseScenario([]byte(valid))
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc: `
description: d
cells: 1
script:
  - wait: {cell: 0, length: 1.0e-7}
`,
			want: "name is required",
		},
		{
			name: "no cells",
			doc: `
name: n
description: d
script:
  - wait: {cell: 0, length: 1.0e-7}
`,
			want: "cells needs to be positive",
		},
		{
			name: "too many couplers",
			doc: `
name: n
description: d
cells: 1
couplers: 3
script:
  - wait: {cell: 0, length: 1.0e-7}
`,
			want: "couplers",
		},
		{
			name: "empty script",
			doc: `
name: n
description: d
cells: 1
script: []
`,
			want: "script is required",
		},
		{
			name: "two commands in one step",
			doc: `
name: n
description: d
cells: 1
script:
  - wait: {cell: 0, length: 1.0e-7}
    play: {cell: 0, length: 1.0e-7}
`,
			want: "exactly one command, has 2",
		},
		{
			name: "duplicate variable",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
  - name: x
script:
  - wait: {cell: 0, length: 1.0e-7}
`,
			want: `duplicate name "x"`,
		},
		{
			name: "unknown variable type",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
    type: complex
script:
  - wait: {cell: 0, length: 1.0e-7}
`,
			want: `unknown type "complex"`,
		},
		{
			name: "unknown comparison",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
script:
  - if:
      var: x
      op: "~"
      value: 1
      then:
        - wait: {cell: 0, length: 1.0e-7}
`,
			want: `unknown comparison "~"`,
		},
		{
			name: "assign with two forms",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
script:
  - assign:
      var: x
      value: 1
      add: [1, 2]
`,
			want: "exactly one of value, add or sub",
		},
		{
			name: "pulse with length and continuous",
			doc: `
name: n
description: d
cells: 1
script:
  - play: {cell: 0, length: 1.0e-7, continuous: true}
`,
			want: "either a length or continuous",
		},
		{
			name: "single parallel branch",
			doc: `
name: n
description: d
cells: 1
script:
  - parallel:
      - - wait: {cell: 0, length: 1.0e-7}
`,
			want: "at least two branches",
		},
		{
			name: "for without body",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
script:
  - for:
      var: x
      start: 0
      end: 4
      step: 1
      body: []
`,
			want: "body list is required",
		},
		{
			name: "property as loop bound",
			doc: `
name: n
description: d
cells: 1
variables:
  - name: x
script:
  - for:
      var: x
      start: 0
      end: "prop:n_avg"
      step: 1
      body:
        - wait: {cell: 0, length: 1.0e-7}
`,
			want: "cannot reference properties",
		},
		{
			name: "bad value string",
			doc: `
name: n
description: d
cells: 1
script:
  - wait: {cell: 0, length: banana}
`,
			want: "var:NAME or prop:NAME",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_File(t *testing.T) {
	scenario, err := LoadScenario("testdata/pi-pulse.yaml")
	require.NoError(t, err)
	assert.Equal(t, "pi-pulse", scenario.Name)
	require.Len(t, scenario.Script, 1)
	require.NotNil(t, scenario.Script[0].Play)
	assert.Equal(t, FloatValue(100.0e-9), scenario.Script[0].Play.Length)

	_, err = LoadScenario("testdata/does-not-exist.yaml")
	require.Error(t, err)
}
