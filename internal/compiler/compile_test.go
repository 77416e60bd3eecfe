package compiler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/qicode"
)

func requireCode(t *testing.T, err error, code qicode.ErrorCode) *qicode.Error {
	t.Helper()
	require.Error(t, err)
	var qerr *qicode.Error
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, code, qerr.Code)
	return qerr
}

func TestBuild_MinimalJob(t *testing.T) {
	j := qicode.NewJob()
	cells := qicode.NewCells(j, 1)
	j.Play(cells[0], qicode.NewPulse(100e-9))

	cj, err := Build(j, WithName("rabi"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, cj.BuildID)
	assert.False(t, cj.CreatedAt.IsZero())
	assert.Equal(t, "rabi", cj.Name)
	assert.NotEmpty(t, cj.Job)
	assert.Equal(t, []int{0}, cj.CellMap)
	require.Len(t, cj.Programs, 1)
	assert.Equal(t, 0, cj.Programs[0].CellIndex)
	require.Len(t, cj.ResultOrders, 1)
	assert.Empty(t, cj.ResultOrders[0])

	// Oscillator sync leads the program unless switched off.
	sync, ok := cj.Programs[0].Instructions[0].(*isa.Trigger)
	require.True(t, ok)
	assert.True(t, sync.Sync)
}

func TestBuild_ConstructionErrorSurfaces(t *testing.T) {
	j := qicode.NewJob()
	qicode.NewCells(j, 1)
	j.Else(func() {})

	_, err := Build(j)
	requireCode(t, err, qicode.CodeElseWithoutIf)
}

func TestBuild_ResolvesPropertiesThroughCellMap(t *testing.T) {
	sample := qicode.NewSample(3)
	sample.Cell(2).Set("t_rest", 200e-9)
	require.NoError(t, sample.SetCellMap([]int{2, 1, 0}))

	j := qicode.NewJob()
	cells := qicode.NewCells(j, 1)
	j.Wait(cells[0], cells[0].Prop("t_rest"))

	cj, err := Build(j, WithSample(sample), WithCellMap([]int{2}), WithoutNCOSync())
	require.NoError(t, err)

	// Job cell 0 reads sample cell 2, which the sample maps to
	// controller cell 0.
	assert.Equal(t, []int{0}, cj.CellMap)
	require.Len(t, cj.Programs, 1)
	assert.Equal(t, 0, cj.Programs[0].CellIndex)
	wait, ok := cj.Programs[0].Instructions[0].(*isa.WaitImm)
	require.True(t, ok)
	assert.Equal(t, uint32(50), wait.Cycles)

	assert.Same(t, cj.Programs[0], cj.Program(0))
	assert.Nil(t, cj.Program(5))
}

func TestBuild_MissingPropertiesListKeys(t *testing.T) {
	j := qicode.NewJob()
	cells := qicode.NewCells(j, 1)
	j.Wait(cells[0], cells[0].Prop("pi_len"))
	j.Wait(cells[0], cells[0].Prop("amp"))

	_, err := Build(j)
	qerr := requireCode(t, err, qicode.CodeUnresolvedProperties)
	assert.Contains(t, qerr.Message, "amp")
	assert.Contains(t, qerr.Message, "pi_len")
	assert.Equal(t, "cell 0", qerr.Cell)
}

func TestBuild_SampleTooSmall(t *testing.T) {
	j := qicode.NewJob()
	qicode.NewCells(j, 2)

	_, err := Build(j, WithSample(qicode.NewSample(1)))
	requireCode(t, err, qicode.CodeCellMapInvalid)
}

func TestBuild_CellMapValidation(t *testing.T) {
	build := func(cells int, sample *qicode.Sample, cellMap []int) error {
		j := qicode.NewJob()
		qicode.NewCells(j, cells)
		_, err := Build(j, WithSample(sample), WithCellMap(cellMap))
		return err
	}

	requireCode(t, build(1, qicode.NewSample(2), []int{0, 1}), qicode.CodeCellMapInvalid)
	requireCode(t, build(1, qicode.NewSample(2), []int{-1}), qicode.CodeCellMapInvalid)
	requireCode(t, build(1, qicode.NewSample(2), []int{2}), qicode.CodeCellMapInvalid)
	requireCode(t, build(2, qicode.NewSample(2), []int{0, 0}), qicode.CodeCellMapInvalid)
}

func TestBuild_RecordingOrders(t *testing.T) {
	j := qicode.NewJob(qicode.WithoutNCOSync())
	cells := qicode.NewCells(j, 2)
	i := j.IntVariable(qicode.WithName("i"))
	j.ForRange(i, 0, 3, 1, func() {
		j.Recording(cells[0], 400e-9, qicode.SaveTo("iq"))
	})
	j.Wait(cells[1], 100e-9)

	cj, err := Build(j)
	require.NoError(t, err)
	require.Len(t, cj.ResultOrders, 2)
	assert.Equal(t, []string{"iq", "iq", "iq"}, cj.ResultOrders[0])
	assert.Empty(t, cj.ResultOrders[1])
}

func TestBuild_NCOSyncOverrides(t *testing.T) {
	lead := func(opts []qicode.JobOption, buildOpts ...Option) []isa.Instruction {
		j := qicode.NewJob(opts...)
		qicode.NewCells(j, 1)
		cj, err := Build(j, buildOpts...)
		require.NoError(t, err)
		return cj.Programs[0].Instructions
	}

	instrs := lead(nil)
	require.Len(t, instrs, 2)
	assert.True(t, instrs[0].(*isa.Trigger).Sync)

	instrs = lead(nil, WithoutNCOSync())
	require.Len(t, instrs, 1)
	assert.IsType(t, &isa.End{}, instrs[0])

	instrs = lead([]qicode.JobOption{qicode.WithoutNCOSync()})
	require.Len(t, instrs, 1)

	instrs = lead(nil, NCOSyncLength(100e-9))
	require.Len(t, instrs, 3)
	assert.Equal(t, uint32(24), instrs[1].(*isa.WaitImm).Cycles)
}

func TestBuild_DiagnosticsDeduplicate(t *testing.T) {
	j := qicode.NewJob(qicode.WithoutNCOSync())
	cells := qicode.NewCells(j, 2)
	i := j.IntVariable(qicode.WithName("i"))
	n := j.IntVariable()
	j.ForRange(i, 0, n, 1, func() {
		j.Wait(cells[0], 100e-9)
		j.Wait(cells[1], 100e-9)
	})

	cj, err := Build(j)
	require.NoError(t, err)

	// Both cells warn about the runtime bound, the build reports it once.
	for _, p := range cj.Programs {
		require.Len(t, p.Diagnostics, 1)
	}
	count := 0
	for _, d := range cj.Diagnostics {
		if d.Code == qicode.CodeProgressAccuracy {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCompiledJob_Assembly(t *testing.T) {
	j := qicode.NewJob(qicode.WithoutNCOSync())
	cells := qicode.NewCells(j, 2)
	j.Wait(cells[0], 100e-9)
	j.Wait(cells[1], 100e-9)

	cj, err := Build(j)
	require.NoError(t, err)

	lines := cj.Assembly()
	require.Len(t, lines, 6)
	assert.Equal(t, "cell 0:", lines[0])
	assert.Equal(t, cj.Programs[0].Listing()[0], lines[1])
	assert.Equal(t, "cell 1:", lines[3])
	assert.Equal(t, cj.Programs[1].Listing()[1], lines[5])
}
