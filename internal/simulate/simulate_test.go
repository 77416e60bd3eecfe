package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantuminterface/qicode/internal/qicode"
)

func saveNames(order Order, cell *qicode.Cell) []string {
	var out []string
	for _, rec := range order[cell] {
		out = append(out, rec.SaveTo())
	}
	return out
}

func TestRun_LoopRepeatsRecordingPerIteration(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	i := j.IntVariable()
	j.ForRange(i, 0, 10, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("amp"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	require.Len(t, order[cell], 10)
	assert.Same(t, order[cell][0], order[cell][9])
	require.Len(t, order.Results(cell), 10)

	order.Commit()
	results := cell.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "amp", results[0].Name())
	assert.Equal(t, 10, results[0].Recordings())
}

func TestRun_NestedLoopBoundReadsOuterVariable(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	a := j.IntVariable()
	b := j.IntVariable()
	j.ForRange(a, 0, 10, 1, func() {
		j.ForRange(b, 0, a, 1, func() {
			j.Recording(cell, 400e-9, qicode.SaveTo("tri"))
		})
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Len(t, order[cell], 45)
}

func TestRun_ReadoutAttachedRecordingsCount(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	i := j.IntVariable()
	j.ForRange(i, 0, 4, 1, func() {
		j.PlayReadout(cell, qicode.NewPulse(400e-9, qicode.WithFrequency(30e6)))
		j.Recording(cell, 400e-9, qicode.SaveTo("iq"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	require.Len(t, order[cell], 4)
	for _, rec := range order[cell] {
		assert.True(t, rec.FollowsReadout())
	}
}

func TestRun_ParallelEntriesKeepDocumentOrder(t *testing.T) {
	j := qicode.NewJob()
	cells := qicode.NewCells(j, 2)
	j.Parallel(func() {
		j.Recording(cells[0], 400e-9, qicode.SaveTo("first"))
		j.Recording(cells[0], 400e-9, qicode.SaveTo("second"))
	}, func() {
		j.Recording(cells[1], 400e-9, qicode.SaveTo("other"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, saveNames(order, cells[0]))
	assert.Equal(t, []string{"other"}, saveNames(order, cells[1]))
}

func TestRun_RecordingInIfBodyRejected(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	v := j.IntVariable()
	j.Assign(v, 1)
	j.If(qicode.Gt(v, 0), func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("x"))
	})
	require.NoError(t, j.Seal())

	_, err := Run(j)
	assert.True(t, qicode.IsCode(err, qicode.CodeRecordingInBranch))
}

func TestRun_RecordingInElseBodyRejected(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	v := j.IntVariable()
	j.Assign(v, 1)
	j.If(qicode.Gt(v, 0), func() {
		j.Wait(cell, 40e-9)
	})
	j.Else(func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("x"))
	})
	require.NoError(t, j.Seal())

	_, err := Run(j)
	assert.True(t, qicode.IsCode(err, qicode.CodeRecordingInBranch))
}

func TestRun_ReadoutRecordingInBranchRejected(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	v := j.IntVariable()
	j.Assign(v, 1)
	j.If(qicode.Gt(v, 0), func() {
		j.PlayReadout(cell, qicode.NewPulse(400e-9, qicode.WithFrequency(30e6)))
		j.Recording(cell, 400e-9, qicode.SaveTo("x"))
	})
	require.NoError(t, j.Seal())

	_, err := Run(j)
	assert.True(t, qicode.IsCode(err, qicode.CodeRecordingInBranch))
}

func TestRun_AssignedBoundsResolve(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	n := j.IntVariable()
	i := j.IntVariable()
	j.Assign(n, 3)
	j.Assign(n, qicode.Add(n, 2))
	j.ForRange(i, 0, n, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("sweep"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Len(t, order[cell], 5)
}

func TestRun_UnassignedBoundFails(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	n := j.IntVariable(qicode.WithName("n"))
	i := j.IntVariable()
	j.ForRange(i, 0, n, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("x"))
	})
	require.NoError(t, j.Seal())

	_, err := Run(j)
	require.True(t, qicode.IsCode(err, qicode.CodeUnsimulatable))
	var qerr *qicode.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "n", qerr.Var)
}

func TestRun_NoRecordingsSkipsReplay(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	n := j.IntVariable()
	i := j.IntVariable()
	j.ForRange(i, 0, n, 1, func() {
		j.Play(cell, qicode.NewPulse(40e-9, qicode.WithFrequency(90e6)))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	require.Contains(t, order, cell)
	assert.Empty(t, order[cell])

	order.Commit()
	assert.Empty(t, cell.Results())
}

func TestRun_DuplicateSaveNamesShareOneResult(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	j.Recording(cell, 400e-9, qicode.SaveTo("m"))
	j.Recording(cell, 400e-9, qicode.SaveTo("m"))
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	require.Len(t, order[cell], 2)
	results := order.Results(cell)
	require.Len(t, results, 2)
	assert.Same(t, results[0], results[1])

	order.Commit()
	all := cell.Results()
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Recordings())
}

func TestRun_StateOnlyRecordingTakesNoResultSlot(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	state := j.StateVariable()
	j.Recording(cell, 400e-9, qicode.StateTo(state))
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Len(t, order[cell], 1)
	assert.Empty(t, order.Results(cell))

	order.Commit()
	assert.Empty(t, cell.Results())
}

func TestRun_ShiftsFollowRegisterSemantics(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	v := j.IntVariable()
	i := j.IntVariable()
	j.Assign(v, qicode.Shl(1, 4))
	j.Assign(v, qicode.Shr(v, 2))
	j.ForRange(i, 0, v, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("s"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Len(t, order[cell], 4)
}

func TestRun_BranchAssignmentsNotSimulated(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	v := j.IntVariable()
	i := j.IntVariable()
	j.Assign(v, 2)
	j.If(qicode.Eq(v, 2), func() {
		j.Assign(v, 100)
	})
	j.ForRange(i, 0, v, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("s"))
	})
	require.NoError(t, j.Seal())

	order, err := Run(j)
	require.NoError(t, err)

	assert.Len(t, order[cell], 2)
}

func TestRun_RecordingOverflowRejected(t *testing.T) {
	j := qicode.NewJob()
	cell := qicode.NewCells(j, 1)[0]
	i := j.IntVariable()
	j.ForRange(i, 0, 1025, 1, func() {
		j.Recording(cell, 400e-9, qicode.SaveTo("deep"))
	})
	require.NoError(t, j.Seal())

	_, err := Run(j)
	require.True(t, qicode.IsCode(err, qicode.CodeRecordingOverflow))
	var qerr *qicode.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, cell.Name(), qerr.Cell)
}
